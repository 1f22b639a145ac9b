package main

import (
	"fmt"
	"os"
	"strconv"

	"wbm-go/internal/app"
	"wbm-go/internal/config"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newApp reads the config and creates an App. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "Ingest", "Verify").
func newApp(operation string, recreate bool) (*app.App, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}

	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	a, err := app.NewApp(cfg, operation, recreate)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}

	return a, nil
}

// readPassphrase prompts for a passphrase without echoing it.
func readPassphrase(prompt string) (string, error) {
	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(pass), nil
}

var rootCmd = &cobra.Command{
	Use:   "wbmd",
	Short: "Web capture archive and tweet index",
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		// Generate a new host ID
		hostID := uuid.New().String()

		cfg := config.NewConfig(hostID, defaults["base_dir"])

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Host ID: %s\n", hostID)
		fmt.Printf("Base Dir: %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Host ID:   %s\n", cfg.HostID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Store Dir: %s\n", cfg.Store.Dir)
		fmt.Printf("Database:  %s\n", cfg.Database.Path)
		return nil
	},
}

// store command
var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Manage the capture archive",
}

var storeCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the sharded store layout",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("CreateStore", false)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.CreateStore(); err != nil {
			return fmt.Errorf("creating store: %w", err)
		}
		fmt.Println("Store created.")
		return nil
	},
}

var storeExtractCmd = &cobra.Command{
	Use:   "extract DIGEST",
	Short: "Print the content archived under a digest",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Extract", false)
		if err != nil {
			return err
		}
		defer a.Close()

		content, found, err := a.Extract(args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no entry for digest %s", args[0])
		}

		fmt.Print(content)
		return nil
	},
}

var storeListCmd = &cobra.Command{
	Use:   "list",
	Short: "List archived digests",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")

		a, err := newApp("List", false)
		if err != nil {
			return err
		}
		defer a.Close()

		digests, err := a.List(cmd.Context(), prefix)
		if err != nil {
			return err
		}
		for _, d := range digests {
			fmt.Println(d)
		}
		return nil
	},
}

var storeDigestsCmd = &cobra.Command{
	Use:   "digests",
	Short: "Recompute and verify entry digests",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")
		parallelism, _ := cmd.Flags().GetInt("parallelism")

		a, err := newApp("Verify", false)
		if err != nil {
			return err
		}
		defer a.Close()

		report, err := a.Verify(cmd.Context(), prefix, parallelism)
		if err != nil {
			return err
		}

		fmt.Printf("valid: %d  invalid: %d  broken: %d\n",
			report.Valid, report.Invalid, report.Broken)
		if report.Invalid > 0 || report.Broken > 0 {
			return fmt.Errorf("store verification found %d bad entries",
				report.Invalid+report.Broken)
		}
		return nil
	},
}

var storeAddCmd = &cobra.Command{
	Use:   "add INPUT",
	Short: "Archive a raw capture file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("Add", false)
		if err != nil {
			return err
		}
		defer a.Close()

		d, err := a.Ingest(args[0], "", nil)
		if err != nil {
			return fmt.Errorf("archiving: %w", err)
		}

		fmt.Println(d)
		return nil
	},
}

// digests-raw command
var digestsRawCmd = &cobra.Command{
	Use:   "digests-raw DIR",
	Short: "Digest a flat directory of raw gzip captures",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("DigestRaw", false)
		if err != nil {
			return err
		}
		defer a.Close()

		digests, err := a.DigestRaw(args[0])
		if err != nil {
			return err
		}
		for _, d := range digests {
			fmt.Printf("%s,%s\n", d.Name, d.Digest)
		}
		return nil
	},
}

// ingest command
var ingestCmd = &cobra.Command{
	Use:   "ingest INPUT",
	Short: "Archive a capture and index its tweets",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tweetsPath, _ := cmd.Flags().GetString("tweets")
		primary, _ := cmd.Flags().GetInt64("primary")

		a, err := newApp("Ingest", false)
		if err != nil {
			return err
		}
		defer a.Close()

		var primaryID *int64
		if cmd.Flags().Changed("primary") {
			primaryID = &primary
		}

		d, err := a.Ingest(args[0], tweetsPath, primaryID)
		if err != nil {
			return fmt.Errorf("ingesting: %w", err)
		}

		fmt.Println(d)
		return nil
	},
}

// tweets command
var tweetsCmd = &cobra.Command{
	Use:   "tweets",
	Short: "Manage the tweet index",
}

var tweetsInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the tweet index schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		recreate, _ := cmd.Flags().GetBool("recreate")

		// Opening the index applies pending migrations; recreate drops
		// the tables first.
		a, err := newApp("InitTweets", recreate)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Println("Tweet index ready.")
		return nil
	},
}

var tweetsGetCmd = &cobra.Command{
	Use:   "get ID...",
	Short: "Look up tweets by status id",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids := make([]int64, 0, len(args))
		for _, arg := range args {
			id, err := strconv.ParseInt(arg, 10, 64)
			if err != nil {
				return fmt.Errorf("invalid status id %q: %w", arg, err)
			}
			ids = append(ids, id)
		}

		a, err := newApp("GetTweets", false)
		if err != nil {
			return err
		}
		defer a.Close()

		captures, err := a.GetTweets(ids)
		if err != nil {
			return err
		}

		if len(captures) == 0 {
			fmt.Println("No tweets found.")
			return nil
		}

		for _, c := range captures {
			fmt.Printf("%d  %s  @%s  %s\n  %s\n",
				c.Tweet.ID,
				c.Tweet.Time.Format("2006-01-02 15:04:05"),
				c.Tweet.UserScreenName,
				c.Digest,
				c.Tweet.Text,
			)
		}
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage the mirror encryption key pair",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate the encryption key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("SetupKeys", false)
		if err != nil {
			return err
		}
		defer a.Close()

		pass, err := readPassphrase("Passphrase: ")
		if err != nil {
			return err
		}
		confirm, err := readPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		if pass != confirm {
			return fmt.Errorf("passphrases do not match")
		}

		if err := a.SetupKeys(pass); err != nil {
			return fmt.Errorf("generating keys: %w", err)
		}

		fmt.Println("Key pair generated.")
		return nil
	},
}

// mirror command
var mirrorCmd = &cobra.Command{
	Use:   "mirror",
	Short: "Manage the offsite mirror",
}

var mirrorSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload missing entries to the mirror",
	RunE: func(cmd *cobra.Command, args []string) error {
		prefix, _ := cmd.Flags().GetString("prefix")

		a, err := newApp("MirrorSync", false)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.MirrorSync(cmd.Context(), prefix)
		if err != nil {
			return fmt.Errorf("syncing mirror: %w", err)
		}

		fmt.Printf("Uploaded %d entries\n", n)
		return nil
	},
}

var mirrorGetCmd = &cobra.Command{
	Use:   "get DIGEST",
	Short: "Download a mirrored entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		a, err := newApp("MirrorGet", false)
		if err != nil {
			return err
		}
		defer a.Close()

		var pass string
		if a.MirrorEncrypted() {
			pass, err = readPassphrase("Passphrase: ")
			if err != nil {
				return err
			}
		}

		w := os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}

		if err := a.MirrorGet(cmd.Context(), args[0], pass, w); err != nil {
			return fmt.Errorf("fetching from mirror: %w", err)
		}
		return nil
	},
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)

	// store subcommands
	storeCmd.AddCommand(storeCreateCmd)
	storeCmd.AddCommand(storeExtractCmd)
	storeCmd.AddCommand(storeListCmd)
	storeListCmd.Flags().StringP("prefix", "p", "", "Only list digests with this prefix")
	storeCmd.AddCommand(storeDigestsCmd)
	storeDigestsCmd.Flags().StringP("prefix", "p", "", "Only verify digests with this prefix")
	storeDigestsCmd.Flags().IntP("parallelism", "j", 0, "Number of digest workers (0 = config default)")
	storeCmd.AddCommand(storeAddCmd)

	// tweets subcommands
	tweetsCmd.AddCommand(tweetsInitCmd)
	tweetsInitCmd.Flags().Bool("recreate", false, "Drop and rebuild the index schema")
	tweetsCmd.AddCommand(tweetsGetCmd)

	// keys subcommands
	keysCmd.AddCommand(keysInitCmd)

	// mirror subcommands
	mirrorCmd.AddCommand(mirrorSyncCmd)
	mirrorSyncCmd.Flags().StringP("prefix", "p", "", "Only sync digests with this prefix")
	mirrorCmd.AddCommand(mirrorGetCmd)
	mirrorGetCmd.Flags().StringP("output", "o", "", "Write to a file instead of stdout")

	// root commands
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(storeCmd)
	rootCmd.AddCommand(digestsRawCmd)
	rootCmd.AddCommand(ingestCmd)
	ingestCmd.Flags().StringP("tweets", "t", "", "JSON file of tweet records to index")
	ingestCmd.Flags().Int64("primary", 0, "Primary twitter id the capture belongs to")
	rootCmd.AddCommand(tweetsCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(mirrorCmd)
}
