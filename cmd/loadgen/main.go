package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

type authResponse struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
	} `json:"user"`
	Token string `json:"token"`
}

type scoreRequest struct {
	Score    int64  `json:"score"`
	Distance int64  `json:"distance"`
	GameMode string `json:"gameMode"`
}

type player struct {
	username string
	token    string
}

type client struct {
	baseURL string
	http    *http.Client
}

func (c *client) post(ctx context.Context, path, token string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		return fmt.Errorf("%s %s: %d %s", http.MethodPost, path, resp.StatusCode, e.Error)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func register(ctx context.Context, c *client, faker *gofakeit.Faker, idx int) (player, error) {
	username := fmt.Sprintf("%s%d", faker.Username(), idx)
	body := map[string]string{
		"email":    fmt.Sprintf("%d.%s", idx, faker.Email()),
		"username": username,
		"password": faker.Password(true, true, true, false, false, 12),
	}

	var resp authResponse
	if err := c.post(ctx, "/api/auth/register", "", body, &resp); err != nil {
		return player{}, err
	}
	return player{username: resp.User.Username, token: resp.Token}, nil
}

func main() {
	// Command line flags
	baseURL := flag.String("url", "http://localhost:8080", "Server base URL")
	modes := flag.String("modes", "endless", "Game modes (comma-separated)")
	totalPlayers := flag.Int("players", 50, "Number of players to register")
	submissionsPerSecond := flag.Int("rate", 20, "Score submissions per second")
	concurrency := flag.Int("concurrency", 8, "Concurrent submitters")
	duration := flag.Duration("duration", 0, "Duration to run (0 = until interrupted)")
	seed := flag.Int64("seed", 0, "Random seed (0 = time based)")
	flag.Parse()

	if *totalPlayers <= 0 || *submissionsPerSecond <= 0 || *concurrency <= 0 {
		log.Fatal("players, rate and concurrency must be positive")
	}

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}
	faker := gofakeit.New(uint64(*seed))
	gameModes := strings.Split(*modes, ",")

	fmt.Println("Racing Run load generator")
	fmt.Printf("  URL:          %s\n", *baseURL)
	fmt.Printf("  Game modes:   %s\n", *modes)
	fmt.Printf("  Players:      %d\n", *totalPlayers)
	fmt.Printf("  Rate:         %d/sec\n", *submissionsPerSecond)
	fmt.Printf("  Seed:         %d\n", *seed)
	fmt.Println()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}

	c := &client{baseURL: strings.TrimRight(*baseURL, "/"), http: &http.Client{Timeout: 10 * time.Second}}

	// Register players
	players := make([]player, 0, *totalPlayers)
	for i := 0; i < *totalPlayers; i++ {
		p, err := register(ctx, c, faker, i)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("register failed: %v", err)
			continue
		}
		players = append(players, p)
		fmt.Printf("\r  Registered: %d/%d", len(players), *totalPlayers)
	}
	fmt.Println()

	if len(players) == 0 {
		log.Fatal("no players registered")
	}

	// faker is not safe for concurrent use, so submissions are generated here
	jobs := make(chan func(), *concurrency)
	var sent, failed, firsts int64
	var wg sync.WaitGroup

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				job()
			}
		}()
	}

	submit := func(p player, req scoreRequest) func() {
		return func() {
			var resp struct {
				Rank int64 `json:"rank"`
			}
			if err := c.post(ctx, "/api/scores", p.token, req, &resp); err != nil {
				if ctx.Err() == nil {
					log.Printf("submit failed for %s: %v", p.username, err)
				}
				atomic.AddInt64(&failed, 1)
				return
			}
			atomic.AddInt64(&sent, 1)
			if resp.Rank == 1 {
				atomic.AddInt64(&firsts, 1)
			}
		}
	}

	ticker := time.NewTicker(time.Second / time.Duration(*submissionsPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	printStats := func() {
		fmt.Printf("[%s] Sent: %d | Errors: %d | New leaders: %d\n",
			time.Now().Format("15:04:05"),
			atomic.LoadInt64(&sent),
			atomic.LoadInt64(&failed),
			atomic.LoadInt64(&firsts),
		)
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			p := players[faker.Number(0, len(players)-1)]
			req := scoreRequest{
				Score:    int64(faker.Number(100, 10000)),
				Distance: int64(faker.Number(50, 5000)),
				GameMode: faker.RandomString(gameModes),
			}
			select {
			case jobs <- submit(p, req):
			case <-ctx.Done():
				break loop
			}
		case <-statsTicker.C:
			printStats()
		}
	}

	close(jobs)
	wg.Wait()

	fmt.Println()
	printStats()
}
