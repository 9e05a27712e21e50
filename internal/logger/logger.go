package logger

import (
    "context"
    "encoding/json"
    "fmt"
    "io"
    "os"
    "path/filepath"
    "sync"
    "time"

    "github.com/axiomhq/axiom-go/axiom"
    "github.com/axiomhq/axiom-go/axiom/ingest"
    "github.com/rs/zerolog"
    "github.com/rs/zerolog/log"
    lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

const (
    serviceName    = "rangeplanner"
    axiomBatchSize = 200
    axiomBuffer    = 1000
)

// Options defines logger initialization parameters.
type Options struct {
    Level      string
    Pretty     bool
    File       string
    MaxSizeMB  int
    MaxBackups int
    MaxAgeDays int
    Compress   bool

    SendToAxiom  bool
    AxiomAPIKey  string
    AxiomOrgID   string
    AxiomDataset string
    AxiomFlush   time.Duration

    // Out replaces stdout; used by tests.
    Out io.Writer
}

var (
    global  zerolog.Logger
    shipper *batcher
)

// Init sets up the global logger. Lines go to stdout (console format when
// Pretty), to a rotated file when File is set, and to Axiom when enabled.
func Init(opts Options) error {
    var writers []io.Writer

    if opts.File != "" {
        if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
            return fmt.Errorf("create logs dir: %w", err)
        }
        writers = append(writers, &lumberjack.Logger{
            Filename:   opts.File,
            MaxSize:    opts.MaxSizeMB,
            MaxBackups: opts.MaxBackups,
            MaxAge:     opts.MaxAgeDays,
            Compress:   opts.Compress,
        })
    }

    out := opts.Out
    if out == nil { out = os.Stdout }
    if opts.Pretty {
        out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
    }
    writers = append(writers, out)

    if opts.SendToAxiom && opts.AxiomAPIKey != "" {
        b, err := newAxiomBatcher(opts.AxiomAPIKey, opts.AxiomOrgID, opts.AxiomDataset, opts.AxiomFlush)
        if err != nil {
            fmt.Fprintf(os.Stderr, "Axiom disabled: %v\n", err)
        } else {
            shipper = b
            writers = append(writers, &eventWriter{sink: b})
        }
    }

    zerolog.TimeFieldFormat = time.RFC3339
    lvl, err := zerolog.ParseLevel(opts.Level)
    if err != nil || opts.Level == "" { lvl = zerolog.InfoLevel }

    global = zerolog.New(io.MultiWriter(writers...)).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
    log.Logger = global
    return nil
}

// Close flushes buffered Axiom events.
func Close() {
    if shipper != nil {
        shipper.Close()
        shipper = nil
    }
}

// Get returns the global logger.
func Get() *zerolog.Logger { return &global }

// Component returns a child of the global logger tagged with a component name.
func Component(name string) zerolog.Logger {
    return log.Logger.With().Str("component", name).Logger()
}

type eventSink interface {
    Send(ev axiom.Event)
}

// eventWriter turns zerolog JSON lines into Axiom events. Debug and trace
// lines stay local.
type eventWriter struct{ sink eventSink }

func (w *eventWriter) Write(p []byte) (int, error) {
    var ev map[string]interface{}
    if err := json.Unmarshal(p, &ev); err != nil {
        ev = map[string]interface{}{"message": string(p), "level": "info"}
    }
    switch ev["level"] {
    case "debug", "trace":
        return len(p), nil
    }
    ev["service"] = serviceName
    if _, ok := ev[ingest.TimestampField]; !ok {
        ev[ingest.TimestampField] = time.Now()
    }
    w.sink.Send(axiom.Event(ev))
    return len(p), nil
}

type ingestFunc func(ctx context.Context, batch []axiom.Event) error

// batcher buffers events and ships them in batches, on a timer and on Close.
type batcher struct {
    ingest ingestFunc
    size   int
    ch     chan axiom.Event
    quit   chan struct{}
    wg     sync.WaitGroup
    once   sync.Once
}

func newAxiomBatcher(token, orgID, dataset string, flushEvery time.Duration) (*batcher, error) {
    if dataset == "" { dataset = "dev_" + serviceName }
    opts := []axiom.Option{axiom.SetToken(token)}
    if orgID != "" { opts = append(opts, axiom.SetOrganizationID(orgID)) }
    c, err := axiom.NewClient(opts...)
    if err != nil { return nil, err }
    ingest := func(ctx context.Context, batch []axiom.Event) error {
        _, err := c.IngestEvents(ctx, dataset, batch)
        return err
    }
    return newBatcher(ingest, axiomBatchSize, flushEvery), nil
}

func newBatcher(ingest ingestFunc, size int, flushEvery time.Duration) *batcher {
    if flushEvery <= 0 { flushEvery = 10 * time.Second }
    b := &batcher{ingest: ingest, size: size, ch: make(chan axiom.Event, axiomBuffer), quit: make(chan struct{})}
    b.wg.Add(1)
    go b.loop(flushEvery)
    return b
}

// Send never blocks; events are dropped while the buffer is full.
func (b *batcher) Send(ev axiom.Event) {
    select {
    case b.ch <- ev:
    default:
    }
}

func (b *batcher) loop(flushEvery time.Duration) {
    defer b.wg.Done()
    ticker := time.NewTicker(flushEvery)
    defer ticker.Stop()
    batch := make([]axiom.Event, 0, b.size)
    flush := func() {
        if len(batch) == 0 { return }
        ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
        if err := b.ingest(ctx, batch); err != nil {
            fmt.Fprintf(os.Stderr, "axiom ingest failed: %v\n", err)
        }
        cancel()
        batch = make([]axiom.Event, 0, b.size)
    }
    for {
        select {
        case <-b.quit:
            // drain what was queued before Close
            for {
                select {
                case ev := <-b.ch:
                    batch = append(batch, ev)
                    if len(batch) >= b.size { flush() }
                default:
                    flush()
                    return
                }
            }
        case <-ticker.C:
            flush()
        case ev := <-b.ch:
            batch = append(batch, ev)
            if len(batch) >= b.size { flush() }
        }
    }
}

// Close stops the loop after flushing everything already sent.
func (b *batcher) Close() {
    b.once.Do(func() { close(b.quit) })
    b.wg.Wait()
}
