package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/streamhaus/evr-go/adapters/nats"
	"github.com/streamhaus/evr-go/core/es"
)

// === Config ===

// NOTE: for BACKEND=nats run: docker run --net=host nats:latest -js

var (
	logLevel      = slog.LevelInfo
	N             = getEnvInt("N", 50_000)
	batchSize     = getEnvInt("B", 1_000)
	backendType   = getEnv("BACKEND", "mem")
	snapshotEvery = getEnvInt("SNAPSHOT_EVERY", 100)
	useSnapshot   = getEnvBool("SNAPSHOT", true)
	loadAfterSave = getEnvBool("LOAD_AFTER_SAVE", false)
)

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	return v == "1" || strings.ToLower(v) == "true"
}

func getEnv(key, fallback string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v, err := strconv.Atoi(getEnv(key, fmt.Sprintf("%d", fallback)))
	if err != nil {
		return fallback
	}
	return v
}

// === Projection ===

type countingProjection struct {
	total atomic.Int64
}

func (c *countingProjection) Name() string { return "count" }
func (c *countingProjection) Apply(ctx context.Context, env es.Envelope, event any) error {
	c.total.Add(1)
	return nil
}

var _ es.Projection = (*countingProjection)(nil)

func main() {
	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))

	fmt.Printf("Backend:  %s\n", backendType)
	fmt.Printf("Snapshot: %v (every %d)\n", useSnapshot, snapshotEvery)
	fmt.Printf("Events:   %d\n", N)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
	defer cancel()

	count := &countingProjection{}

	var env *es.Env
	switch backendType {
	case "nats":
		env = createNatsEnv(ctx, log, count)
	default:
		env = createMemEnv(log, count)
	}

	checkErr(env.Start(ctx))
	defer func() { _ = env.Shutdown(context.Background()) }()

	repo := es.TypedRepo[*User](env, es.WithAggregateCache(1_000))

	// === Run ===

	log.Info("==================================")
	log.Info("starting")

	startAt := time.Now()

	userID := "user-1"
	myUser, err := repo.GetOrCreate(ctx, userID)
	checkErr(err)

	lastTime := time.Now()

	for i := 0; i < N; i++ {
		checkErr(myUser.ChangeEmail(fmt.Sprintf("user@host-%d.com", i)))
		checkErr(repo.Save(ctx, myUser))

		if loadAfterSave {
			loaded, err := repo.GetByID(ctx, userID)
			checkErr(err)
			myUser = loaded
		}

		if i == 0 {
			continue
		}
		if i%100 == 0 {
			print(".")
		}
		if i%batchSize == 0 {
			mu := getMemUsage()

			n := time.Now()
			took := n.Sub(lastTime)
			fmt.Printf(" | %5d events | %6d ms |  %6d events/s | (%d / %d) MiB mem (sys) |\n", batchSize, took.Milliseconds(), int(float64(batchSize)/took.Seconds()), mu.Alloc/1024/1024, mu.Sys/1024/1024)
			lastTime = n
		}
	}

	// === Stats ===

	println("")
	println("==========================================")

	doneAt := time.Now()
	took := doneAt.Sub(startAt)
	runtime.GC()

	fmt.Printf("total runtime: %.3f seconds\n", took.Seconds())
	fmt.Printf("      version: %d\n", myUser.GetVersion())
	fmt.Printf("   global pos: %d\n", myUser.GetPos())
	fmt.Printf("avg. writes/s: %d\n", int(float64(N)/took.Seconds()))

	// drain the projection before reporting
	waitFor(ctx, func() bool { return count.total.Load() >= int64(N) })

	cp, err := env.Engine().Checkpoint(ctx, "count")
	checkErr(err)
	fmt.Printf("projection: %d events, checkpoint at %d (%s)\n", count.total.Load(), cp.Position, cp.Status)
}

// === Stats helpers ===

type MemUsage struct {
	Alloc      uint64 // bytes allocated and not yet freed (heap)
	TotalAlloc uint64 // cumulative bytes allocated
	Sys        uint64 // total bytes obtained from OS
	NumGC      uint32 // gc cycles
}

func getMemUsage() MemUsage {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return MemUsage{
		Alloc:      m.Alloc,
		TotalAlloc: m.TotalAlloc,
		Sys:        m.Sys,
		NumGC:      m.NumGC,
	}
}

func waitFor(ctx context.Context, cond func() bool) {
	for !cond() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// === Env ===

func createMemEnv(log *slog.Logger, p es.Projection) *es.Env {
	env, err := es.NewEnv(
		es.WithLog(log),
		es.WithEnvSnapshotter(snapshotter(log)),
		es.WithAggregates(new(User)),
		es.WithProjection(p),
		es.WithRepoOptions(es.WithSnapshotEvery(snapshotEvery)),
	)
	checkErr(err)
	return env
}

// createNatsEnv keeps the event store in memory but publishes every commit
// to JetStream and persists checkpoints in a NATS KV bucket.
func createNatsEnv(ctx context.Context, log *slog.Logger, p es.Projection) *es.Env {
	connect := nats.ConnectDefault()

	pub, err := nats.NewPublisher(ctx, nats.PublisherConfig{
		Log:           log,
		Connect:       connect,
		StreamName:    "EVR_LOADTEST",
		SubjectPrefix: "evr.loadtest",
	})
	checkErr(err)

	cpKv, err := nats.NewKvStore(ctx, nats.KvConfig{
		Connect: connect,
		Bucket:  "loadtest_cps",
	})
	checkErr(err)

	env, err := es.NewEnv(
		es.WithLog(log),
		es.WithPublisher(pub),
		es.WithEnvSnapshotter(snapshotter(log)),
		es.WithCheckpointStore(es.NewKVCheckpointStore(cpKv)),
		es.WithAggregates(new(User)),
		es.WithProjection(p),
		es.WithRepoOptions(es.WithSnapshotEvery(snapshotEvery)),
	)
	checkErr(err)
	return env
}

func snapshotter(log *slog.Logger) es.Snapshotter {
	if !useSnapshot {
		return nil
	}
	return es.NewInMemorySnapshotter(log)
}

// === Domain ===

type (
	User struct {
		es.BaseAggregate

		Name  string
		Email string
	}

	NameChanged  struct{ NewName string }
	EmailChanged struct{ NewEmail string }
)

func (u *User) Apply(e any) error {
	switch evt := e.(type) {
	case *NameChanged:
		u.Name = evt.NewName
		return nil
	case *EmailChanged:
		u.Email = evt.NewEmail
		return nil
	}
	return u.BaseAggregate.Apply(e)
}

func (u *User) ChangeName(name string) error {
	if name == "" {
		return fmt.Errorf("name is empty")
	}
	return es.RaiseAndApply(u, &NameChanged{NewName: name})
}

func (u *User) ChangeEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is empty")
	}
	return es.RaiseAndApply(u, &EmailChanged{NewEmail: email})
}

func (u *User) StreamType() string { return "user" }

func (u *User) Register(r es.Registrar) {
	es.RegisterEvents(
		r,
		es.Event[NameChanged](),
		es.Event[EmailChanged](),
	)
}

var _ es.Aggregate = (*User)(nil)

// === Helpers ===

func checkErr(err error) {
	if err != nil {
		panic(err)
	}
}
