package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/mmynk/tripsync/internal/config"
	"github.com/mmynk/tripsync/internal/engine"
	"github.com/mmynk/tripsync/internal/models"
	"github.com/mmynk/tripsync/internal/storage/remote"
	"github.com/mmynk/tripsync/pkg/logging"
)

const TripctlVersion = "0.1.0"

const commandTimeout = 15 * time.Second

const usage = `Trip sync participant tool.

Settings not given as options come from the environment
(TRIPSYNC_SERVER, TRIPSYNC_TOKEN, GEMINI_API_KEY, SEARCH_REGION, ...).

Usage:
    tripctl token [--server=<url>]
    tripctl join <trip> [--server=<url>] [--token=<token>] [--role=<role>]
        [--track=<file>] [--interval=<interval>]
    tripctl add <trip> <name> [--server=<url>] [--token=<token>]
        [--time=<hh:mm>] [--category=<category>]
    tripctl remove <trip> <id> [--server=<url>] [--token=<token>]
    tripctl list <trip> [--server=<url>] [--token=<token>]
    tripctl search <trip> <query>... [--server=<url>] [--token=<token>]
    tripctl pick <trip> <n> [<query>...] [--server=<url>] [--token=<token>]
    tripctl spots

Options:
    -h --help                Show this screen.
    --version                Show version.
    --server=<url>           Store server base URL.
    --token=<token>          Participant token; a new identity is issued if none is set.
    --role=<role>            Parent or Child [default: Parent].
    --track=<file>           Replay positions from an NDJSON track file.
    --interval=<interval>    Pause between replayed fixes [default: 2s].
    --time=<hh:mm>           Time of day for the item.
    --category=<category>    Item category.

The pick command adds entry <n> of the explore list to the plan: the results
of <query>, or the curated spots when there is no query or no result.`

func main() {
	logging.Setup()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], TripctlVersion)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if server, _ := opts.String("--server"); server != "" {
		cfg.ServerURL = server
	}
	if token, _ := opts.String("--token"); token != "" {
		cfg.Token = token
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := dispatch(ctx, cfg, opts); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

func dispatch(ctx context.Context, cfg *config.Config, opts docopt.Opts) error {
	if token_, _ := opts.Bool("token"); token_ {
		return issueToken(ctx, cfg)
	} else if join_, _ := opts.Bool("join"); join_ {
		return join(ctx, cfg, opts)
	} else if add_, _ := opts.Bool("add"); add_ {
		return addItem(ctx, cfg, opts)
	} else if remove_, _ := opts.Bool("remove"); remove_ {
		return removeItem(ctx, cfg, opts)
	} else if list_, _ := opts.Bool("list"); list_ {
		return listItems(ctx, cfg, opts)
	} else if search_, _ := opts.Bool("search"); search_ {
		return runSearch(ctx, cfg, opts)
	} else if pick_, _ := opts.Bool("pick"); pick_ {
		return pickItem(ctx, cfg, opts)
	} else if spots_, _ := opts.Bool("spots"); spots_ {
		printCandidates(models.CuratedCandidates())
		return nil
	}
	return nil
}

func issueToken(ctx context.Context, cfg *config.Config) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	token, participantID, err := remote.IssueToken(ctx, http.DefaultClient, cfg.ServerURL)
	if err != nil {
		return err
	}
	fmt.Printf("participant: %s\n", participantID)
	fmt.Printf("export TRIPSYNC_TOKEN=%s\n", token)
	return nil
}

func addItem(ctx context.Context, cfg *config.Config, opts docopt.Opts) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	trip, _ := opts.String("<trip>")
	name, _ := opts.String("<name>")
	at, _ := opts.String("--time")
	category, _ := opts.String("--category")

	p, err := connectParticipant(ctx, cfg, trip, opts, nil)
	if err != nil {
		return err
	}
	defer p.close()

	id, err := p.engine.AddToPlan(ctx, models.Candidate{Name: name, Category: category, RecommendedTime: at})
	if err != nil {
		return err
	}
	items, err := p.waitItinerary(ctx, func(items []models.ItineraryItem) bool {
		return containsItem(items, id)
	})
	if err != nil {
		return fmt.Errorf("item %s was not confirmed: %w", id, err)
	}
	printItinerary(items)
	return nil
}

func removeItem(ctx context.Context, cfg *config.Config, opts docopt.Opts) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	trip, _ := opts.String("<trip>")
	id, _ := opts.String("<id>")

	p, err := connectParticipant(ctx, cfg, trip, opts, nil)
	if err != nil {
		return err
	}
	defer p.close()

	if err := p.engine.RemoveFromPlan(ctx, id); err != nil {
		return err
	}
	items, err := p.waitItinerary(ctx, func(items []models.ItineraryItem) bool {
		return !containsItem(items, id)
	})
	if err != nil {
		return err
	}
	printItinerary(items)
	return nil
}

func listItems(ctx context.Context, cfg *config.Config, opts docopt.Opts) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout)
	defer cancel()

	trip, _ := opts.String("<trip>")
	p, err := connectParticipant(ctx, cfg, trip, opts, nil)
	if err != nil {
		return err
	}
	defer p.close()

	items, err := p.waitItinerary(ctx, func([]models.ItineraryItem) bool { return true })
	if err != nil {
		return err
	}
	printItinerary(items)
	return nil
}

func runSearch(ctx context.Context, cfg *config.Config, opts docopt.Opts) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout+cfg.SearchTimeout)
	defer cancel()

	trip, _ := opts.String("<trip>")

	p, err := connectParticipant(ctx, cfg, trip, opts, nil)
	if err != nil {
		return err
	}
	defer p.close()

	results, err := p.engine.Search(ctx, queryText(opts))
	if errors.Is(err, engine.ErrNoSearch) {
		return fmt.Errorf("%w: GEMINI_API_KEY is not set", err)
	}
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("No results.")
		return nil
	}
	printCandidates(results)
	return nil
}

func pickItem(ctx context.Context, cfg *config.Config, opts docopt.Opts) error {
	ctx, cancel := context.WithTimeout(ctx, commandTimeout+cfg.SearchTimeout)
	defer cancel()

	trip, _ := opts.String("<trip>")
	arg, _ := opts.String("<n>")
	n, err := strconv.Atoi(arg)
	if err != nil {
		return fmt.Errorf("invalid pick %q: %w", arg, err)
	}

	p, err := connectParticipant(ctx, cfg, trip, opts, nil)
	if err != nil {
		return err
	}
	defer p.close()

	picked, id, err := planPick(ctx, p.engine, queryText(opts), n)
	if err != nil {
		return err
	}
	fmt.Printf("Added %s.\n", picked.Name)

	items, err := p.waitItinerary(ctx, func(items []models.ItineraryItem) bool {
		return containsItem(items, id)
	})
	if err != nil {
		return fmt.Errorf("item %s was not confirmed: %w", id, err)
	}
	printItinerary(items)
	return nil
}

// queryText joins the words of <query> back into one search text.
func queryText(opts docopt.Opts) string {
	words, _ := opts["<query>"].([]string)
	return strings.Join(words, " ")
}

// planPick runs query through the engine when one is given, then adds entry n
// (1-based) of the explore list to the plan.
func planPick(ctx context.Context, eng *engine.Engine, query string, n int) (models.Candidate, string, error) {
	if strings.TrimSpace(query) != "" {
		if _, err := eng.Search(ctx, query); err != nil {
			if errors.Is(err, engine.ErrNotActive) {
				return models.Candidate{}, "", err
			}
			slog.Warn("Search failed, picking from curated spots", "query", query, "error", err)
		}
	}

	list := eng.ExploreList()
	if n < 1 || n > len(list) {
		return models.Candidate{}, "", fmt.Errorf("pick %d is out of range 1..%d", n, len(list))
	}
	picked := list[n-1]
	id, err := eng.AddToPlan(ctx, picked)
	if err != nil {
		return models.Candidate{}, "", err
	}
	return picked, id, nil
}

func containsItem(items []models.ItineraryItem, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func printItinerary(items []models.ItineraryItem) {
	if len(items) == 0 {
		fmt.Println("The plan is empty.")
		return
	}
	for _, item := range items {
		at := item.Time
		if at == "" {
			at = "--:--"
		}
		fmt.Printf("%s  %-28s  %-10s  %s\n", at, item.Name, item.Category, item.ID)
		if item.Notes != "" {
			fmt.Printf("       %s\n", item.Notes)
		}
	}
}

func printCandidates(candidates []models.Candidate) {
	for i, c := range candidates {
		fmt.Printf("%2d. %s [%s]", i+1, c.Name, c.Category)
		if c.RecommendedTime != "" {
			fmt.Printf(" at %s", c.RecommendedTime)
		}
		fmt.Println()
		if c.Description != "" {
			fmt.Printf("    %s\n", c.Description)
		}
	}
}
