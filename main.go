package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"gopkg.in/natefinch/lumberjack.v2"

	"solstream/config"
	"solstream/internal/transport"
	"solstream/services/catalog"
	"solstream/services/session"
)

const usage = `solstream <command> [flags]

Commands:
  channels            list entitled channels (-epg adds now/next)
  guide               print the program guide (-from, -to, -channels)
  asset <id>          show one asset
  play <id>           negotiate playback and print the stream descriptor
  search <query>      search the catalog
  replay <channel>    list replay programs of a channel
  series <id>         list episodes of a series
  catalogs            list VOD catalogs
  genres              list VOD genres (-catalog scopes to one catalog)
  seasons <id>        list seasons of a VOD series
  query <query>       run a raw collection query
  entitlements        print the account's products, offers and assets
  devices             list registered devices
  remove-device <id>  unregister a device
  logout              drop the stored session tokens
`

func main() {
	flag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	configPath := os.Getenv("SOLSTREAM_CONFIG")
	if configPath == "" {
		configPath = filepath.Join("cache", "settings.json")
	}

	cfgManager := config.NewManager(configPath)
	settings, err := cfgManager.Load()
	if err != nil {
		log.Fatalf("failed to load settings: %v", err)
	}

	setupLogging(settings)

	tenant, ok := config.GetTenant(settings.Account.Tenant)
	if !ok {
		log.Fatalf("unknown tenant %q", settings.Account.Tenant)
	}

	tp := transport.New(nil)
	store := session.NewFileStore(nil, filepath.Join(settings.Cache.Directory, "account.json"))
	auth, err := session.NewService(tenant, tp, store, settings.Account.Username, settings.Account.Password, settings.Account.DeviceName)
	if err != nil {
		log.Fatalf("failed to initialise session: %v", err)
	}
	cat := catalog.NewService(tenant, tp, auth)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, flag.Args(), auth, cat); err != nil {
		log.Fatalf("%s: %v", flag.Arg(0), err)
	}
}

func setupLogging(settings config.Settings) {
	if settings.Log.File == "" {
		return
	}
	logDir := filepath.Dir(settings.Log.File)
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.Printf("Warning: could not create log directory %s: %v", logDir, err)
		return
	}
	fileWriter := &lumberjack.Logger{
		Filename:   settings.Log.File,
		MaxSize:    settings.Log.MaxSize,
		MaxBackups: settings.Log.MaxBackups,
		MaxAge:     settings.Log.MaxAge,
		Compress:   settings.Log.Compress,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, fileWriter))
	log.SetFlags(log.LstdFlags | log.Lshortfile)
}

func run(ctx context.Context, args []string, auth *session.Service, cat *catalog.Service) error {
	command, args := args[0], args[1:]

	switch command {
	case "channels":
		fs := flag.NewFlagSet("channels", flag.ExitOnError)
		withEPG := fs.Bool("epg", false, "include current and next program per channel")
		fs.Parse(args)
		channels, err := cat.Channels(ctx, *withEPG)
		if err != nil {
			return err
		}
		return printJSON(channels)

	case "guide":
		fs := flag.NewFlagSet("guide", flag.ExitOnError)
		from := fs.String("from", "", "start date (yesterday, today, tomorrow or YYYY-MM-DD)")
		to := fs.String("to", "", "end date, defaults to one day after start")
		chlist := fs.String("channels", "", "comma separated channel ids, defaults to the whole bouquet")
		fs.Parse(args)

		var ids []string
		if *chlist != "" {
			ids = strings.Split(*chlist, ",")
		} else {
			channels, err := cat.Channels(ctx, false)
			if err != nil {
				return err
			}
			for _, ch := range channels {
				ids = append(ids, ch.ID)
			}
		}
		guide, err := cat.Guide(ctx, ids, *from, *to)
		if err != nil {
			return err
		}
		return printJSON(guide)

	case "asset":
		id, err := oneArg(args, "asset id")
		if err != nil {
			return err
		}
		asset, err := cat.Asset(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(asset)

	case "play":
		id, err := oneArg(args, "asset id")
		if err != nil {
			return err
		}
		stream, err := cat.Stream(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(stream)

	case "search":
		query, err := oneArg(args, "query")
		if err != nil {
			return err
		}
		assets, err := cat.Search(ctx, query)
		if err != nil {
			return err
		}
		return printJSON(assets)

	case "replay":
		id, err := oneArg(args, "channel id")
		if err != nil {
			return err
		}
		programs, err := cat.Replay(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(programs)

	case "series":
		id, err := oneArg(args, "series id")
		if err != nil {
			return err
		}
		programs, err := cat.Series(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(programs)

	case "catalogs":
		catalogs, err := cat.Catalogs(ctx)
		if err != nil {
			return err
		}
		return printJSON(catalogs)

	case "genres":
		fs := flag.NewFlagSet("genres", flag.ExitOnError)
		scope := fs.String("catalog", "", "catalog id to scope the genre list to")
		fs.Parse(args)
		genres, err := cat.Genres(ctx, *scope)
		if err != nil {
			return err
		}
		return printJSON(genres)

	case "seasons":
		id, err := oneArg(args, "series asset id")
		if err != nil {
			return err
		}
		seasons, err := cat.Seasons(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(seasons)

	case "query":
		query, err := oneArg(args, "query")
		if err != nil {
			return err
		}
		assets, err := cat.QueryAssets(ctx, query)
		if err != nil {
			return err
		}
		return printJSON(assets)

	case "entitlements":
		ent, err := auth.Entitlements(ctx)
		if err != nil {
			return err
		}
		return printJSON(ent)

	case "devices":
		devices, err := auth.Devices(ctx)
		if err != nil {
			return err
		}
		return printJSON(devices)

	case "remove-device":
		id, err := oneArg(args, "device id")
		if err != nil {
			return err
		}
		if err := auth.RemoveDevice(ctx, id); err != nil {
			return err
		}
		fmt.Println("device removed")
		return nil

	case "logout":
		if err := auth.Logout(); err != nil {
			return err
		}
		fmt.Println("logged out")
		return nil

	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", command)
	}
}

func oneArg(args []string, name string) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("expected exactly one argument: %s", name)
	}
	return args[0], nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
