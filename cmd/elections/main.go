package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/bbengfort/elections"
	"github.com/bbengfort/elections/registry"
	"github.com/bbengfort/elections/store"
	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
)

func main() {
	// Load the .env file if it exists
	godotenv.Load()

	app := cli.NewApp()
	app.Name = "elections"
	app.Usage = "run and inspect recurring nation and party elections"
	app.Version = elections.Version()
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "data",
			Aliases: []string{"d"},
			Usage:   "directory of the file store (overrides config)",
		},
		&cli.StringFlag{
			Name:    "database",
			Aliases: []string{"D"},
			Usage:   "sqlite:// or postgres:// dsn of the store (overrides config)",
			EnvVars: []string{"DATABASE_URL"},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:     "serve",
			Usage:    "run the election engine until interrupted",
			Category: "server",
			Action:   serve,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "world",
					Aliases:  []string{"w"},
					Usage:    "path to the JSON world of nations, parties, and participants",
					Required: true,
				},
				&cli.StringFlag{
					Name:    "health",
					Aliases: []string{"a"},
					Usage:   "bind address of the health service (overrides config)",
				},
				&cli.BoolFlag{
					Name:  "no-cycles",
					Usage: "do not schedule recurring elections on start",
				},
			},
		},
		{
			Name:     "status",
			Usage:    "list the elections in the active partition of the store",
			Category: "client",
			Action:   status,
		},
		{
			Name:      "inspect",
			Usage:     "show an active or archived election",
			ArgsUsage: "id",
			Category:  "client",
			Action:    inspect,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "json",
					Aliases: []string{"j"},
					Usage:   "print the raw record",
				},
			},
		},
		{
			Name:      "apportion",
			Usage:     "distribute seats by largest remainder",
			ArgsUsage: "party=votes [party=votes ...]",
			Category:  "client",
			Action:    apportion,
			Flags: []cli.Flag{
				&cli.IntFlag{
					Name:    "seats",
					Aliases: []string{"s"},
					Usage:   "number of seats to distribute",
					Value:   100,
				},
				&cli.Float64Flag{
					Name:    "threshold",
					Aliases: []string{"t"},
					Usage:   "minimum vote share for representation",
					Value:   0.05,
				},
			},
		},
		{
			Name:     "bench",
			Usage:    "benchmark concurrent ballot recording",
			Category: "client",
			Action:   bench,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:    "blast",
					Aliases: []string{"b"},
					Usage:   "cast every ballot in its own goroutine",
				},
				&cli.UintFlag{
					Name:    "operations",
					Aliases: []string{"n"},
					Usage:   "number of ballots (per worker in simple mode)",
					Value:   10000,
				},
				&cli.UintFlag{
					Name:    "concurrency",
					Aliases: []string{"c"},
					Usage:   "number of workers in simple mode",
					Value:   8,
				},
				&cli.UintFlag{
					Name:    "candidates",
					Aliases: []string{"k"},
					Usage:   "number of candidates on the ballot",
					Value:   4,
				},
				&cli.BoolFlag{
					Name:    "json",
					Aliases: []string{"j"},
					Usage:   "print results as JSON rather than CSV",
				},
			},
		},
		{
			Name:     "config",
			Usage:    "print the loaded configuration",
			Category: "client",
			Action:   config,
		},
	}

	app.Run(os.Args)
}

//===========================================================================
// Server Commands
//===========================================================================

func serve(c *cli.Context) (err error) {
	var conf *elections.Config
	if conf, err = loadConfig(c); err != nil {
		return cli.Exit(err, 1)
	}

	if c.IsSet("health") {
		conf.HealthAddr = c.String("health")
	}
	if c.Bool("no-cycles") {
		conf.AutoCycles = false
	}

	var world *registry.World
	if world, err = registry.Load(c.String("world")); err != nil {
		return cli.Exit(err, 1)
	}

	var db store.Store
	if db, err = store.Open(conf.Database, conf.DataDir); err != nil {
		return cli.Exit(err, 1)
	}

	var engine *elections.Engine
	if engine, err = elections.New(conf, elections.Dependencies{
		Store:     db,
		Nations:   world.NationRegistry(),
		Parties:   world.PartyRegistry(),
		Directory: world,
		Notify:    announce,
	}); err != nil {
		db.Close()
		return cli.Exit(err, 1)
	}

	if err = engine.Start(); err != nil {
		engine.Close()
		return cli.Exit(err, 1)
	}
	world.Watch(engine)

	errc := make(chan error, 1)
	go func() {
		if err := engine.Serve(conf.HealthAddr); err != nil {
			errc <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	// SIGHUP reloads the world document; removed nations and parties and
	// government changes are passed on to the engine.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)

serving:
	for {
		select {
		case <-hup:
			reloadWorld(world, c.String("world"))
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("shutting down")
			break serving
		case err = <-errc:
			log.Error().Err(err).Msg("health service stopped")
			break serving
		}
	}
	world.Watch(nil)

	if serr := world.Save(c.String("world")); serr != nil {
		log.Error().Err(serr).Msg("could not save world")
	}

	if cerr := engine.Close(); cerr != nil {
		return cli.Exit(cerr, 1)
	}

	if err != nil {
		return cli.Exit(err, 1)
	}
	return nil
}

// announce logs every engine notification.
func announce(e elections.Event) error {
	src := e.Source()
	evt := log.Info().Str("event", e.Type().String()).Str("election", src.ID).
		Str("context", src.Context.String()).Str("type", src.Type.String())
	if val := e.Value(); val != nil {
		evt = evt.Interface("value", val)
	}
	evt.Msg("election event")
	return nil
}

//===========================================================================
// Client Commands
//===========================================================================

func status(c *cli.Context) (err error) {
	var db store.Store
	if db, err = openStore(c); err != nil {
		return cli.Exit(err, 1)
	}
	defer db.Close()

	var records []*store.Record
	if records, err = db.LoadActive(); err != nil {
		return cli.Exit(err, 1)
	}

	if len(records) == 0 {
		fmt.Println("no active elections")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCONTEXT\tTYPE\tPHASE\tCANDIDATES\tBALLOTS\tDEADLINE")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s:%s\t%s\t%s\t%d\t%s\t%s\n",
			rec.ID, rec.ContextKind, rec.ContextID, rec.Type, rec.Phase,
			len(rec.Candidates), humanize.Comma(int64(len(rec.Voters))), deadline(rec),
		)
	}
	return w.Flush()
}

func inspect(c *cli.Context) (err error) {
	if c.NArg() != 1 {
		return cli.Exit("specify the id of a single election", 1)
	}
	id := c.Args().First()

	var db store.Store
	if db, err = openStore(c); err != nil {
		return cli.Exit(err, 1)
	}
	defer db.Close()

	rec, archived, err := findRecord(db, id)
	if err != nil {
		return cli.Exit(err, 1)
	}

	if c.Bool("json") {
		var data []byte
		if data, err = rec.Marshal(); err != nil {
			return cli.Exit(err, 1)
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("%s election %s in %s:%s\n", rec.Type, rec.ID, rec.ContextKind, rec.ContextID)
	fmt.Printf("  phase:      %s (archived: %t)\n", rec.Phase, archived)
	fmt.Printf("  government: %s, electorate: %s\n", rec.Government, rec.Electorate)
	fmt.Printf("  deadline:   %s\n", deadline(rec))
	if rec.Reason != "" {
		fmt.Printf("  reason:     %s\n", rec.Reason)
	}
	if rec.RunoffOf != "" {
		fmt.Printf("  run-off of: %s (round %d)\n", rec.RunoffOf, rec.Round)
	}

	candidates := append([]store.CandidateRecord(nil), rec.Candidates...)
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Votes != candidates[j].Votes {
			return candidates[i].Votes > candidates[j].Votes
		}
		return candidates[i].Participant < candidates[j].Participant
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nCANDIDATE\tNAME\tPARTY\tVOTES")
	for _, cand := range candidates {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cand.Participant, cand.Name, cand.PartyName, humanize.Comma(cand.Votes))
	}
	w.Flush()

	if res := rec.Results; res != nil {
		fmt.Printf("\n%s ballots counted\n", humanize.Comma(res.TotalVotes))
		if res.Winner != "" {
			fmt.Printf("winner: %s\n", res.Winner)
		}
		if len(res.Tied) > 0 {
			fmt.Printf("tied: %s\n", strings.Join(res.Tied, ", "))
		}
		if res.Runoff != "" {
			fmt.Printf("run-off: %s\n", res.Runoff)
		}
		printSeats(res.Seats, res.WinningParty)
	}
	return nil
}

func apportion(c *cli.Context) (err error) {
	if c.NArg() == 0 {
		return cli.Exit("specify at least one party=votes pair", 1)
	}

	votes := make(map[string]int64, c.NArg())
	for _, arg := range c.Args().Slice() {
		parts := strings.SplitN(arg, "=", 2)
		if len(parts) != 2 {
			return cli.Exit(fmt.Errorf("could not parse %q as party=votes", arg), 1)
		}

		var n int64
		if n, err = strconv.ParseInt(parts[1], 10, 64); err != nil || n < 0 {
			return cli.Exit(fmt.Errorf("could not parse votes of %q", parts[0]), 1)
		}
		votes[parts[0]] = n
	}

	var result *elections.Apportionment
	if result, err = elections.Apportion(votes, c.Int("seats"), c.Float64("threshold")); err != nil {
		return cli.Exit(err, 1)
	}

	fmt.Printf("%s votes for %d seats, quota %0.2f\n", humanize.Comma(result.Total), c.Int("seats"), result.Quota)
	if result.Degenerate {
		fmt.Println("fewer votes than seats: every seat is awarded to the leading party")
	}
	printSeats(result.Seats, result.Winner)
	return nil
}

func bench(c *cli.Context) (err error) {
	var b elections.Benchmark
	if b, err = elections.NewBenchmark(
		c.Bool("blast"), c.Uint("operations"), c.Uint("concurrency"), c.Uint("candidates"),
	); err != nil {
		return cli.Exit(err, 1)
	}

	if c.Bool("json") {
		var data []byte
		if data, err = b.JSON(0); err != nil {
			return cli.Exit(err, 1)
		}
		fmt.Println(string(data))
		return nil
	}

	var row string
	if row, err = b.CSV(true); err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Println(row)
	return nil
}

func config(c *cli.Context) (err error) {
	var conf *elections.Config
	if conf, err = loadConfig(c); err != nil {
		return cli.Exit(err, 1)
	}

	var data []byte
	if data, err = json.MarshalIndent(conf, "", "  "); err != nil {
		return cli.Exit(err, 1)
	}
	fmt.Println(string(data))
	return nil
}

//===========================================================================
// Helpers
//===========================================================================

func loadConfig(c *cli.Context) (conf *elections.Config, err error) {
	conf = new(elections.Config)
	if err = conf.Load(); err != nil {
		return nil, err
	}

	if err = conf.Update(&elections.Config{
		DataDir:  c.String("data"),
		Database: c.String("database"),
	}); err != nil {
		return nil, err
	}

	conf.Configure()
	return conf, nil
}

func openStore(c *cli.Context) (store.Store, error) {
	conf, err := loadConfig(c)
	if err != nil {
		return nil, err
	}
	return store.Open(conf.Database, conf.DataDir)
}

func findRecord(db store.Store, id string) (*store.Record, bool, error) {
	records, err := db.LoadActive()
	if err != nil {
		return nil, false, err
	}

	for _, rec := range records {
		if rec.ID == id {
			return rec, false, nil
		}
	}

	rec, err := db.LoadArchived(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, false, fmt.Errorf("no election with id %q", id)
		}
		return nil, false, err
	}
	return rec, true, nil
}

// deadline describes the next deadline of the record relative to now.
func deadline(rec *store.Record) string {
	var ts store.Timestamp
	switch rec.Phase {
	case "registration":
		ts = rec.RegistrationEnds
	case "voting":
		ts = rec.VotingEnds
	default:
		ts = rec.Closed
	}

	t, err := ts.Get()
	if err != nil || t.IsZero() {
		return "-"
	}
	return fmt.Sprintf("%s (%s)", humanize.Time(t), t.Local().Format(time.RFC822))
}

func printSeats(seats map[string]int, winner string) {
	if len(seats) == 0 {
		return
	}

	parties := make([]string, 0, len(seats))
	for party := range seats {
		parties = append(parties, party)
	}
	sort.Slice(parties, func(i, j int) bool {
		if seats[parties[i]] != seats[parties[j]] {
			return seats[parties[i]] > seats[parties[j]]
		}
		return parties[i] < parties[j]
	})

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "\nPARTY\tSEATS\t")
	for _, party := range parties {
		mark := ""
		if party == winner {
			mark = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\n", party, seats[party], mark)
	}
	w.Flush()
}

func reloadWorld(world *registry.World, path string) {
	next, err := registry.Load(path)
	if err != nil {
		log.Error().Err(err).Str("path", path).Msg("could not reload world")
		return
	}

	if err = world.Sync(next); err != nil {
		log.Warn().Err(err).Msg("world reloaded with errors")
		return
	}
	log.Info().Str("path", path).Msg("world reloaded")
}
