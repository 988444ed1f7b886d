package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gitlab.com/dirk.krummacker/calllist-service/internal/codec"
	api "gitlab.com/dirk.krummacker/calllist-service/pkg/model"
)

var (
	serverURL    string
	query        string
	status       string
	note         string
	outputFile   string
	clearExport  bool
	pollInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "calllist",
	Short:         "Command line client of the call list service",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all customers",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var pendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List the customers still to be called today",
	Args:  cobra.NoArgs,
	RunE:  runPending,
}

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show the state of the call list",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

var importCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Import customers from a spreadsheet",
	Args:  cobra.ExactArgs(1),
	RunE:  runImport,
}

var callCmd = &cobra.Command{
	Use:   "call <id>",
	Short: "Start a call to a customer",
	Args:  cobra.ExactArgs(1),
	RunE:  runCall,
}

var outcomeCmd = &cobra.Command{
	Use:   "outcome <id>",
	Short: "Record the outcome of the current call",
	Long:  "Record the outcome of the current call. --status is called_ok, called_unreachable or called_wrong_number.",
	Args:  cobra.ExactArgs(1),
	RunE:  runOutcome,
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel the current call without recording an outcome",
	Args:  cobra.NoArgs,
	RunE:  runCancel,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Download all customers as a spreadsheet",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var templateCmd = &cobra.Command{
	Use:   "template",
	Short: "Download the import template",
	Args:  cobra.NoArgs,
	RunE:  runTemplate,
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove all customers",
	Args:  cobra.NoArgs,
	RunE:  runReset,
}

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Wait until the service answers",
	Args:  cobra.NoArgs,
	RunE:  runWait,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the call list service")
	listCmd.Flags().StringVarP(&query, "query", "q", "", "only customers whose name or phone matches")
	outcomeCmd.Flags().StringVar(&status, "status", "", "call outcome")
	outcomeCmd.Flags().StringVar(&note, "note", "", "free text note")
	exportCmd.Flags().StringVarP(&outputFile, "output", "o", "", "target file (default: the name suggested by the service)")
	exportCmd.Flags().BoolVar(&clearExport, "clear", false, "clear the call list after the export")
	templateCmd.Flags().StringVarP(&outputFile, "output", "o", "", "target file (default: the name suggested by the service)")
	waitCmd.Flags().DurationVar(&pollInterval, "interval", 5*time.Second, "time between two attempts")

	rootCmd.AddCommand(listCmd, pendingCmd, summaryCmd, importCmd, callCmd, outcomeCmd,
		cancelCmd, exportCmd, templateCmd, resetCmd, waitCmd)
}

// Usage example on the command line:
// > go run . import customers.xlsx
// > go run . call 17
// > go run . outcome 17 --status called_ok --note "call back tomorrow"
func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func client() *apiClient {
	return newAPIClient(serverURL)
}

func runList(cmd *cobra.Command, _ []string) error {
	customers, err := client().customers(query)
	if err != nil {
		return err
	}
	printCustomers(cmd.OutOrStdout(), customers)
	return nil
}

func runPending(cmd *cobra.Command, _ []string) error {
	customers, err := client().pending()
	if err != nil {
		return err
	}
	printCustomers(cmd.OutOrStdout(), customers)
	return nil
}

func runSummary(cmd *cobra.Command, _ []string) error {
	summary, err := client().summary()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State:     %s\n", summary.State)
	fmt.Fprintf(out, "Customers: %d\n", summary.Total)
	fmt.Fprintf(out, "Pending:   %d\n", summary.Pending)
	fmt.Fprintf(out, "Completed: %d\n", summary.Completed)
	if summary.FileName != "" {
		fmt.Fprintf(out, "File:      %s\n", summary.FileName)
	}
	if summary.Awaiting != nil {
		fmt.Fprintf(out, "Calling:   %s (%s)\n", summary.Awaiting.Name, summary.Awaiting.PhoneDisplay)
	}
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	response, err := client().importFile(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, response.Message)
	if response.Mode == "merge" {
		fmt.Fprintf(out, "inserted %d, updated %d\n", response.Inserted, response.Updated)
	}
	for _, rowErr := range response.Errors {
		fmt.Fprintf(out, "  row %d: %s\n", rowErr.Row, rowErr.Message)
	}
	return nil
}

func runCall(cmd *cobra.Command, args []string) error {
	response, err := client().startCall(args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Calling %s: %s\n", response.Customer.Name, response.DialURI)
	return nil
}

func runOutcome(cmd *cobra.Command, args []string) error {
	customer, err := client().completeCall(args[0], api.Outcome{Status: status, Note: note})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", customer.StatusIcon, customer.Name, customer.StatusLabel)
	return nil
}

func runCancel(cmd *cobra.Command, _ []string) error {
	if err := client().cancelCall(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "call cancelled")
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	path := "/export"
	if clearExport {
		path += "?clear=true"
	}
	return downloadTo(cmd.OutOrStdout(), path)
}

func runTemplate(cmd *cobra.Command, _ []string) error {
	return downloadTo(cmd.OutOrStdout(), "/template")
}

func downloadTo(out io.Writer, path string) error {
	data, name, err := client().download(path)
	if err != nil {
		return err
	}
	target := outputFile
	if target == "" {
		target = name
	}
	if target == "" {
		return fmt.Errorf("no file name given, use --output")
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(out, "saved %s\n", target)
	return nil
}

func runReset(cmd *cobra.Command, _ []string) error {
	if err := client().reset(); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "customer list cleared")
	return nil
}

// runWait polls the summary endpoint until the service answers with 200.
func runWait(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	var waited time.Duration
	for {
		_, err := client().summary()
		if err == nil {
			fmt.Fprintln(out, "service is available")
			return nil
		}
		fmt.Fprintln(out, err)
		waited += pollInterval
		fmt.Fprintf(out, "Waiting %s\n", waited)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func printCustomers(out io.Writer, customers []api.Customer) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHONE\tLAST CALL\tSTATUS\tNOTE")
	for _, c := range customers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s %s\t%s\n",
			c.ID, c.Name, c.PhoneDisplay, codec.FormatDate(c.LastCall, time.Local), c.StatusIcon, c.StatusLabel, c.Note)
	}
	w.Flush()
}
