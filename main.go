package main

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"
	"google.golang.org/api/idtoken"

	"stationpacking/cache"
	"stationpacking/constraint"
	"stationpacking/loader"
	"stationpacking/metrics"
	"stationpacking/packing"
	"stationpacking/solver"
)

const maxRequestBytes = 8 << 20

func main() {
	var (
		interference    = flag.String("interference", "", "interference file (.csv, .json or .yaml)")
		listen          = flag.String("listen", ":8080", "HTTP listen address")
		permutations    = flag.String("permutations", "", "JSON file of cache permutations; random when empty")
		numPermutations = flag.Int("num-permutations", 4, "number of random cache permutations")
		oracleName      = flag.String("oracle", solver.DefaultConfig.Oracle, "SAT oracle: gini or gophersat")
		bound           = flag.String("bound", solver.DefaultConfig.Bound, "underconstrained bound: none, relaxed or exact")
		budget          = flag.Duration("default-budget", solver.DefaultConfig.DefaultBudget, "budget for requests that carry none")
		debug           = flag.Bool("debug", false, "debug logging")
	)
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if *debug {
		log.SetLevel(logrus.DebugLevel)
	}

	for _, key := range []string{"CLIENT_ID", "CLIENT_SECRET", "ADMINS"} {
		if os.Getenv(key) == "" {
			log.Fatalf("%s environment variable is required", key)
		}
	}
	if *interference == "" {
		log.Fatal("--interference is required")
	}

	relations, err := loader.LoadInterference(*interference)
	if err != nil {
		log.WithError(err).Fatal("failed to load interference")
	}
	model, err := constraint.New(relations)
	if err != nil {
		log.WithError(err).Fatal("failed to build constraint model")
	}
	log.WithFields(logrus.Fields{
		"stations":  len(model.Stations()),
		"relations": model.Relations(),
	}).Info("loaded interference")

	universe := cache.NewUniverse(model.Stations())
	perms, err := loadPermutations(*permutations, universe.Size(), *numPermutations)
	if err != nil {
		log.WithError(err).Fatal("failed to load permutations")
	}

	ctx := context.Background()
	cacheOpts := []cache.Option{cache.WithLogger(log)}
	var store cache.Store = &cache.MemoryStore{}
	var pg *cache.PostgresStore
	if conn := os.Getenv("PGCONN"); conn != "" {
		if pg, err = cache.OpenPostgres(ctx, conn); err != nil {
			log.WithError(err).Warn("cache database unavailable, keeping the cache in memory")
		} else {
			defer pg.Close()
			store = pg
			log.Info("connected to cache database")
		}
	}
	c, err := cache.Open(ctx, model, universe, perms, store, cacheOpts...)
	if err != nil {
		log.WithError(err).Fatal("failed to open cache")
	}
	log.WithField("entries", c.Stats()).Info("cache ready")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.RegisterCacheSize(reg, c)

	cfg := solver.DefaultConfig
	cfg.Oracle = *oracleName
	cfg.Bound = *bound
	cfg.DefaultBudget = *budget
	s, err := solver.New(model, cfg,
		solver.WithCache(c),
		solver.WithObserver(metrics.NewPrometheus(reg)),
		solver.WithLogger(log),
	)
	if err != nil {
		log.WithError(err).Fatal("failed to build solver")
	}

	http.HandleFunc("POST /auth/google/callback", handleGoogleCallback(log))
	http.HandleFunc("GET /api/admin/check", handleAdminCheck)
	http.HandleFunc("POST /api/solve", handleSolve(s, log))
	http.HandleFunc("GET /api/cache/stats", handleCacheStats(c))
	http.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	http.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if pg != nil {
			if err := pg.Ping(r.Context()); err != nil {
				http.Error(w, "db unhealthy", http.StatusServiceUnavailable)
				return
			}
		}
		fmt.Fprintln(w, "ok")
	})

	log.Infof("listening on %s", *listen)
	log.Fatal(http.ListenAndServe(*listen, nil))
}

func loadPermutations(path string, size, k int) (*cache.Permutations, error) {
	if path == "" {
		return cache.RandomPermutations(size, k, time.Now().UnixNano()), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "opening permutations")
	}
	defer f.Close()
	return cache.ReadPermutations(f)
}

func handleGoogleCallback(log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		credential := r.FormValue("credential")
		if credential == "" {
			http.Error(w, "missing credential", http.StatusBadRequest)
			return
		}

		payload, err := idtoken.Validate(r.Context(), credential, os.Getenv("CLIENT_ID"))
		if err != nil {
			log.WithError(err).Warn("failed to validate token")
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}

		email, _ := payload.Claims["email"].(string)
		if email == "" {
			http.Error(w, "token carries no email", http.StatusUnauthorized)
			return
		}

		profile := map[string]any{
			"email":   email,
			"name":    payload.Claims["name"],
			"picture": payload.Claims["picture"],
			"token":   signEmail(email),
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(profile)
	}
}

func signEmail(email string) string {
	h := hmac.New(sha256.New, []byte(os.Getenv("CLIENT_SECRET")))
	h.Write([]byte(email))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return base64.RawURLEncoding.EncodeToString([]byte(email)) + "." + sig
}

func authorize(r *http.Request) (string, bool) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return "", false
	}
	emailBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", false
	}
	email := string(emailBytes)
	if !hmac.Equal([]byte(signEmail(email)), []byte(token)) {
		return "", false
	}
	return email, true
}

func isAdmin(email string) bool {
	return slices.ContainsFunc(strings.Split(os.Getenv("ADMINS"), ","), func(a string) bool {
		return strings.TrimSpace(a) == email
	})
}

func requireAdmin(w http.ResponseWriter, r *http.Request) (string, bool) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return "", false
	}
	if !isAdmin(email) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return "", false
	}
	return email, true
}

func handleAdminCheck(w http.ResponseWriter, r *http.Request) {
	email, ok := authorize(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]bool{"admin": isAdmin(email)})
}

type solveResponse struct {
	Result         packing.Result     `json:"result"`
	Assignment     packing.Assignment `json:"assignment,omitempty"`
	Stage          string             `json:"stage"`
	RuntimeSeconds float64            `json:"runtime_seconds"`
}

func handleSolve(s *solver.Solver, log logrus.FieldLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := authorize(r)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		raw, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
		if err != nil {
			http.Error(w, "failed to read request", http.StatusBadRequest)
			return
		}
		inst, err := loader.DecodeInstance(raw)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		out, err := s.Solve(r.Context(), solver.Request{
			Domains:  inst.Domains,
			Previous: inst.Previous,
			Budget:   inst.Budget(),
			Seed:     inst.Seed,
		})
		if errors.Is(err, packing.ErrMalformed) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if err != nil {
			log.WithError(err).WithField("email", email).Error("solve failed")
			http.Error(w, "internal error", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(solveResponse{
			Result:         out.Result,
			Assignment:     out.Assignment,
			Stage:          out.Stage,
			RuntimeSeconds: out.Runtime.Seconds(),
		})
	}
}

func handleCacheStats(c *cache.Cache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := requireAdmin(w, r); !ok {
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Stats())
	}
}
