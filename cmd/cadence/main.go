package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/limbo/cadence/internal/auth"
	"github.com/limbo/cadence/internal/mirror"
	"github.com/limbo/cadence/internal/remote"
	"github.com/limbo/cadence/internal/service"
	"github.com/limbo/cadence/pkg/cleanup"
	"github.com/limbo/cadence/pkg/config"
)

func main() {
	cfg := config.New()
	session := auth.NewSession()
	client := remote.NewHTTPClient(remote.HTTPConfig{
		BaseURL:        cfg.GetString("STORE_BASE_URL"),
		RequestTimeout: cfg.GetDuration("STORE_REQUEST_TIMEOUT", 10*time.Second),
		Tokens:         session,
	})
	syncService := service.New(client, session, service.Options{
		Habits: mirror.HabitsOptions{
			PageLimit: cfg.GetInt("HABITS_PAGE_LIMIT", 200),
		},
		Completions: mirror.CompletionsOptions{
			WindowDays: cfg.GetInt("COMPLETIONS_WINDOW_DAYS", 90),
			PageLimit:  cfg.GetInt("COMPLETIONS_PAGE_LIMIT", 200),
		},
	})

	token := cfg.GetString("SESSION_TOKEN")
	if token == "" {
		log.Fatal("SESSION_TOKEN is required")
	}
	if err := session.SignIn(token); err != nil {
		log.Fatal("sign in error: " + err.Error())
	}

	ctx := context.Background()
	if err := syncService.Start(ctx); err != nil {
		log.Fatal("starting sync error: " + err.Error())
	}
	cleanup.Register(&cleanup.Job{
		Name: "stopping sync",
		F: func() error {
			syncService.Stop()
			return nil
		},
	})
	defer cleanup.CleanUp()

	for _, habit := range syncService.Habits().Active() {
		stats, err := syncService.Stats(habit.ID)
		if err != nil {
			log.Println("stats error for " + habit.Name + ": " + err.Error())
			continue
		}
		fmt.Printf("%-30s streak %3d (best %3d) weekly %3d%% total %4d\n",
			habit.Name, stats.CurrentStreak, stats.LongestStreak,
			stats.WeeklyRate, stats.TotalCompletions)
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
}
