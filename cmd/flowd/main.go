package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"
	"goa.design/flow/api"
	"goa.design/flow/condition"
	"goa.design/flow/convert"
	"goa.design/flow/engine"
	"goa.design/flow/lock"
	lockmem "goa.design/flow/lock/inmem"
	"goa.design/flow/lock/redislock"
	"goa.design/flow/model"
	"goa.design/flow/model/anthropic"
	"goa.design/flow/model/openai"
	"goa.design/flow/node"
	"goa.design/flow/spec/builtin"
	"goa.design/flow/store"
	storemem "goa.design/flow/store/inmem"
	"goa.design/flow/store/redistoken"
	"goa.design/flow/workflow"
)

// combinedStore swaps the token backend out of the in-memory aggregate so a
// Redis deployment gets cross-process single-use consumption while workflow
// and execution records stay local.
type combinedStore struct {
	store.WorkflowStore
	store.ExecutionStore
	store.TokenStore
}

func main() {
	var (
		httpAddrF = flag.String("http-addr", ":8080", "HTTP listen address")
		redisF    = flag.String("redis-addr", "", "Redis address; empty runs fully in memory")
		workersF  = flag.Int("max-workers", engine.DefaultMaxWorkers, "Concurrent node dispatch bound per execution")
		leaseF    = flag.Duration("lease-ttl", engine.DefaultLeaseTTL, "Execution lease duration")
		budgetF   = flag.Duration("conversion-budget", convert.DefaultBudget, "Wall-time budget per conversion function invocation")
		dbgF      = flag.Bool("debug", false, "Enable debug logs")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	clients := make(map[string]model.Client)
	var analysis model.Client
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c := openai.New(openai.Options{APIKey: key})
		clients["OPENAI"] = c
		analysis = c
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		clients["ANTHROPIC"] = anthropic.New(key)
	}

	secrets := node.StaticSecrets{}
	if tok := os.Getenv("SLACK_BOT_TOKEN"); tok != "" {
		secrets["slack/default"] = tok
	}
	if tok := os.Getenv("GITHUB_TOKEN"); tok != "" {
		secrets["github/default"] = tok
	}

	mem := storemem.New()
	var (
		st          store.Store = mem
		locker      lock.Locker = lockmem.New()
		redisClient *redis.Client
	)
	if *redisF != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: *redisF})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatalf(ctx, err, "redis ping %s", *redisF)
		}
		st = combinedStore{
			WorkflowStore:  mem,
			ExecutionStore: mem,
			TokenStore:     redistoken.New(redisClient, "flow"),
		}
		locker = redislock.New(redisClient, "flow")
		log.Printf(ctx, "using redis at %s for leases and resume tokens", *redisF)
	}

	registry := builtin.Registry()
	eng := engine.New(engine.Options{
		Store:          st,
		Locker:         locker,
		Registry:       registry,
		Executors:      node.DefaultRegistry(clients, redisClient),
		Converter:      convert.New(*budgetF),
		AnalysisClient: analysis,
		Secrets:        secrets,
		MaxWorkers:     *workersF,
		LeaseTTL:       *leaseF,
	})
	validator := workflow.NewValidator(registry, condition.New(), convert.New(*budgetF))
	handler := api.New(registry, validator, st, eng)

	srv := &http.Server{
		Addr:    *httpAddrF,
		Handler: handler.Router(),
	}

	errc := make(chan error, 1)
	go func() {
		log.Printf(ctx, "HTTP server listening on %s", *httpAddrF)
		errc <- srv.ListenAndServe()
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigc:
		log.Printf(ctx, "received %s, shutting down", sig)
	case err := <-errc:
		log.Errorf(ctx, err, "server error")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorf(ctx, err, "shutdown")
	}
	log.Printf(ctx, "bye")
}
