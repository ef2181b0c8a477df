package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"territorywar.gg/internal/game/tuning"
	"territorywar.gg/internal/protocol"
	"territorywar.gg/internal/realtime"
)

func main() {
	var (
		base     = flag.String("base", "http://localhost:8080", "server base url")
		name     = flag.String("name", "bot", "nickname")
		party    = flag.String("party", "", "party id (required)")
		interval = flag.Duration("interval", 150*time.Millisecond, "delay between actions")
		tunePath = flag.String("tuning", "", "tuning.yaml with reconnect/event_rate settings")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	if *party == "" {
		logger.Fatalf("-party is required")
	}

	tune := tuning.Defaults()
	if *tunePath != "" {
		var err error
		if tune, err = tuning.Load(*tunePath); err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	nickname := *name
	if len(nickname) < 3 {
		nickname = fmt.Sprintf("%s-%04d", nickname, rand.Intn(10000))
	}
	welcome, err := join(*base, nickname, *party)
	if err != nil {
		logger.Fatalf("join: %v", err)
	}
	logger.Printf("joined actor_id=%s party=%s provinces=%d", welcome.ActorID, welcome.PartyID, welcome.Catalogs.Provinces.Count)

	ctx, cancel := signalContext()
	defer cancel()

	// Subscribe to the event stream with automatic reconnect; the click loop
	// keeps running regardless of channel state.
	wsURL := strings.Replace(*base, "http", "ws", 1) + "/v1/events"
	ch := realtime.NewChannel(&realtime.WSTransport{URL: wsURL, ActorID: welcome.ActorID}, realtime.Config{
		Backoff: realtime.Backoff{
			Base:   time.Duration(tune.Reconnect.BaseDelayMs) * time.Millisecond,
			Max:    time.Duration(tune.Reconnect.MaxDelayMs) * time.Millisecond,
			Jitter: time.Duration(tune.Reconnect.JitterMs) * time.Millisecond,
		},
		MaxAttempts: tune.Reconnect.MaxAttempts,
		RateWindow:  time.Duration(tune.EventRate.WindowSeconds) * time.Second,
		RateTick:    time.Duration(tune.EventRate.RecomputeEveryMs) * time.Millisecond,
	}, logger)
	defer ch.Unsubscribe()

	territories := fetchTerritories(*base, logger)
	if len(territories) == 0 {
		logger.Fatalf("server returned no territories")
	}

	sub := ch.OnTerritoryChange(func(msg protocol.TerritoryChangeMsg) {
		if msg.Current.ControllingParty != msg.Previous.ControllingParty {
			logger.Printf("capture: %s -> %s", msg.TerritoryID, msg.Current.ControllingParty)
		}
	})
	defer sub.Close()
	rateSub := ch.OnEventRate(func(perMinute int) {
		logger.Printf("event rate: %d/min", perMinute)
	})
	defer rateSub.Close()

	tracker := realtime.NewPresenceTracker(ch, func() (int, error) {
		return fetchTotalActors(*base)
	}, logger)
	defer tracker.Close()
	presenceSub := tracker.OnChange(func(online, total int) {
		logger.Printf("presence: online=%d total=%d", online, total)
	})
	defer presenceSub.Close()

	ch.Subscribe()

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ticker := time.NewTicker(*interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		target := territories[rnd.Intn(len(territories))]
		out, err := act(*base, welcome.ActorID, target, *party)
		if err != nil {
			logger.Printf("act: %v", err)
			continue
		}
		if !out.Success && out.Code != protocol.ErrRateLimited {
			logger.Printf("act rejected: %s %s", out.Code, out.Message)
			if out.Code == protocol.ErrContestClosed {
				return
			}
		}
	}
}

func join(base, nickname, party string) (protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	body, _ := json.Marshal(protocol.JoinMsg{
		Type:            protocol.TypeJoin,
		ProtocolVersion: protocol.Version,
		Nickname:        nickname,
		PartyID:         party,
	})
	resp, err := http.Post(base+"/v1/join", "application/json", bytes.NewReader(body))
	if err != nil {
		return w, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return w, fmt.Errorf("join: status %d", resp.StatusCode)
	}
	err = json.NewDecoder(resp.Body).Decode(&w)
	return w, err
}

func act(base, actorID, territoryID, party string) (protocol.OutcomeMsg, error) {
	var out protocol.OutcomeMsg
	body, _ := json.Marshal(protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		ActorID:         actorID,
		TerritoryID:     territoryID,
		PartyID:         party,
	})
	resp, err := http.Post(base+"/v1/act", "application/json", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	err = json.NewDecoder(resp.Body).Decode(&out)
	return out, err
}

// fetchTotalActors reads the registered actor count from the world snapshot.
func fetchTotalActors(base string) (int, error) {
	resp, err := http.Get(base + "/v1/state")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	var st protocol.WorldStateMsg
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return 0, err
	}
	return int(st.World.TotalActors), nil
}

// fetchTerritories lists the seeded territory ids the bot can click.
func fetchTerritories(base string, logger *log.Logger) []string {
	resp, err := http.Get(base + "/v1/territories")
	if err != nil {
		logger.Printf("fetch territories: %v", err)
		return nil
	}
	defer resp.Body.Close()
	var states []protocol.TerritoryState
	if err := json.NewDecoder(resp.Body).Decode(&states); err != nil {
		logger.Printf("decode territories: %v", err)
		return nil
	}
	ids := make([]string, 0, len(states))
	for _, s := range states {
		ids = append(ids, s.TerritoryID)
	}
	return ids
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
