package main

import (
	"github.com/spf13/cobra"
)

var (
	configPath string

	// serve
	consoleGuild  string
	consoleAuthor string

	// ingest
	ingestGuild  string
	ingestSource string

	// triage
	triageTicket string
	triageGuild  string
	triageRating int

	rootCmd = &cobra.Command{
		Use:           "assistant",
		Short:         "Community support assistant with memory, retrieval and ticket tools",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the assistant, reading messages from stdin and replying on stdout",
		Long: `Run the assistant against a console transport. Each stdin line is one
message in a single channel; "/reset" forgets the conversation.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}

	ingestCmd = &cobra.Command{
		Use:     "ingest [file...]",
		Short:   "Embed documents and add them to the knowledge base",
		Aliases: []string{"i"},
		Args:    cobra.MinimumNArgs(1),
		RunE:    runIngest,
	}

	triageCmd = &cobra.Command{
		Use:   "triage",
		Short: "Triage ticket ratings, from flags or as JSON lines on stdin",
		Long: `Triage one rating given with --ticket, --guild and --rating, or read
one JSON object per line from stdin:

  {"ticket_id": "42", "guild_id": "1234", "rating": 5}`,
		Args: cobra.NoArgs,
		RunE: runTriage,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default: search ./config.yaml and the user config dir)")

	serveCmd.Flags().StringVar(&consoleGuild, "guild", "console", "guild id of console messages")
	serveCmd.Flags().StringVar(&consoleAuthor, "author", "console-user", "author id of console messages")
	rootCmd.AddCommand(serveCmd)

	ingestCmd.Flags().StringVar(&ingestGuild, "guild", "", "guild the documents belong to (empty: every guild)")
	ingestCmd.Flags().StringVar(&ingestSource, "source", "", "source label (default: the file name)")
	rootCmd.AddCommand(ingestCmd)

	triageCmd.Flags().StringVar(&triageTicket, "ticket", "", "ticket id")
	triageCmd.Flags().StringVar(&triageGuild, "guild", "", "guild id")
	triageCmd.Flags().IntVar(&triageRating, "rating", 0, "rating 1..5")
	triageCmd.MarkFlagsRequiredTogether("ticket", "guild", "rating")
	rootCmd.AddCommand(triageCmd)
}
