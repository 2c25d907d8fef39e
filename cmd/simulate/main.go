// Command simulate plays a heads-up poker match between two bots, each driving its
// own session against a shared room store, and renders the table with pterm.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand/v2"
	"os"
	"time"

	"github.com/jason-s-yu/tabletop/internal/app"
	"github.com/jason-s-yu/tabletop/internal/config"
	"github.com/jason-s-yu/tabletop/internal/matchmaking"
	"github.com/jason-s-yu/tabletop/internal/models"
	"github.com/jason-s-yu/tabletop/internal/poker"
	"github.com/jason-s-yu/tabletop/internal/rating"
	"github.com/jason-s-yu/tabletop/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/pterm/pterm"
	"github.com/sirupsen/logrus"
)

func main() {
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "shuffle and bot seed")
	mode := flag.String("mode", string(models.ModeRanked), "queue to match in: ranked or casual")
	storeKind := flag.String("store", string(config.StoreMemory), "room store: memory or postgres")
	flag.Parse()

	if err := run(*seed, models.GameMode(*mode), config.StoreKind(*storeKind)); err != nil {
		pterm.Error.Println(err)
		os.Exit(1)
	}
}

func run(seed uint64, mode models.GameMode, kind config.StoreKind) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	cfg.Store = kind
	logger := cfg.Logger()
	logger.SetLevel(logrus.WarnLevel)

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	backend, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	mm := matchmaking.NewService(backend.Rooms, logger)
	ratings := rating.NewUpdater(backend.Ratings, logger)
	rng := rand.New(rand.NewPCG(seed, seed>>1))

	players := []*bot{newBot("Alice", seed), newBot("Bob", seed+1)}
	for _, b := range players {
		b.sess = session.New(session.Config{
			UserID:     b.id,
			Store:      backend.Rooms,
			Matchmaker: mm,
			Game:       b.table,
			Ratings:    ratings,
			Log:        logger,
		})
		defer b.sess.Close()
	}

	pterm.DefaultHeader.WithFullWidth().Printfln("Heads-up hold'em, %s queue, seed %d", mode, seed)
	for _, b := range players {
		room, err := b.sess.FindMatch(ctx, poker.GameID, mode)
		if err != nil {
			return fmt.Errorf("%s: find match: %w", b.name, err)
		}
		pterm.Info.Printfln("%s sits at seat %d of room %s", b.name, b.sess.Seat(), room.ID)
	}
	for _, b := range players {
		if err := waitFor(ctx, func() bool { return b.sess.State() == session.StateReady }); err != nil {
			return fmt.Errorf("%s never saw a full room: %w", b.name, err)
		}
		if err := b.sess.SetReady(ctx, true); err != nil {
			return err
		}
	}
	if err := waitFor(ctx, func() bool { return synced(players, 1) }); err != nil {
		return fmt.Errorf("opening deal never arrived: %w", err)
	}

	version := int64(1)
	for players[0].sess.State() == session.StatePlaying {
		seat := players[0].table.CurrentSeat()
		if seat == 0 {
			break
		}
		actor := players[seat-1]
		a := actor.decide(actor.table.Snapshot(), seat, rng)
		if err := actor.play(ctx, a); err != nil {
			return fmt.Errorf("%s: %w", actor.name, err)
		}
		version++
		printState(players, pterm.Panel{Data: actionBox(actor.name, a)})
		if err := waitFor(ctx, func() bool { return synced(players, version) }); err != nil {
			return fmt.Errorf("replicas diverged at version %d: %w", version, err)
		}
	}

	for _, b := range players {
		if err := waitFor(ctx, func() bool { return b.sess.State() == session.StateFinished }); err != nil {
			return fmt.Errorf("%s never saw the match end: %w", b.name, err)
		}
	}
	printState(players, pterm.Panel{Data: resultBox(players)})
	return printRatings(ctx, backend.Ratings, players, mode)
}

// synced reports whether every replica has merged version v.
func synced(players []*bot, v int64) bool {
	for _, b := range players {
		if b.sess.Version() < v {
			return false
		}
	}
	return true
}

func waitFor(ctx context.Context, cond func() bool) error {
	for !cond() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
	return nil
}

func printRatings(ctx context.Context, repo rating.Repository, players []*bot, mode models.GameMode) error {
	data := pterm.TableData{{"Player", "Rating", "W", "L", "D", "Streak"}}
	for _, b := range players {
		r, err := repo.Get(ctx, b.id, poker.GameID, mode)
		if err != nil {
			return err
		}
		data = append(data, []string{
			b.name,
			fmt.Sprint(r.Rating),
			fmt.Sprint(r.Wins),
			fmt.Sprint(r.Losses),
			fmt.Sprint(r.Draws),
			fmt.Sprint(r.CurrentStreak),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Render()
}
