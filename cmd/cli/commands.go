package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"chatbi/cmd/cli/client"
	"chatbi/internal/models"
	"github.com/spf13/cobra"
)

func parseID(arg string) (uint, error) {
	id, err := strconv.ParseUint(arg, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id: %v", err)
	}
	return uint(id), nil
}

func newTemplateCommand() *cobra.Command {
	templateCmd := &cobra.Command{
		Use:   "templates",
		Short: "Manage report templates",
	}

	var source, query, tag string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List report templates",
		RunE: func(cmd *cobra.Command, args []string) error {
			templates, err := client.NewClient().ListTemplates(source, query, tag)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tNAME\tSOURCE\tCHARTS\tTAGS\t")
			for _, t := range templates {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t\n",
					t.ID, t.Name, t.Source, len(t.Charts), strings.Join(t.Tags, ","))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&source, "source", "", "Filter by source (dashboard|chat)")
	listCmd.Flags().StringVar(&query, "query", "", "Search in name/description")
	listCmd.Flags().StringVar(&tag, "tag", "", "Filter by tag")

	duplicateCmd := &cobra.Command{
		Use:   "duplicate [id]",
		Short: "Duplicate a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			t, err := client.NewClient().DuplicateTemplate(id)
			if err != nil {
				return err
			}
			fmt.Printf("Created template %d: %s\n", t.ID, t.Name)
			return nil
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a template",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := client.NewClient().DeleteTemplate(id); err != nil {
				return err
			}
			fmt.Println("Template deleted")
			return nil
		},
	}

	templateCmd.AddCommand(listCmd, duplicateCmd, deleteCmd)
	return templateCmd
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

func newScheduleCommand() *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage delivery schedules",
	}

	var status string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedules, err := client.NewClient().ListSchedules(status)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tNAME\tTEMPLATE\tFREQUENCY\tSTATUS\tLAST RUN\tNEXT RUN\t")
			for _, s := range schedules {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t\n",
					s.ID, s.Name, s.TemplateName, s.Frequency, s.Status,
					formatTime(s.LastRun), formatTime(s.NextRun))
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "Filter by status (active|paused)")

	pauseCmd := &cobra.Command{
		Use:   "pause [id]",
		Short: "Pause a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := client.NewClient().PauseSchedule(id)
			if err != nil {
				return err
			}
			fmt.Printf("Schedule %q paused\n", s.Name)
			return nil
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume [id]",
		Short: "Resume a paused schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			s, err := client.NewClient().ResumeSchedule(id)
			if err != nil {
				return err
			}
			fmt.Printf("Schedule %q resumed, next run %s\n", s.Name, formatTime(s.NextRun))
			return nil
		},
	}

	sendNowCmd := &cobra.Command{
		Use:   "send-now [id]",
		Short: "Trigger an immediate delivery",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			run, err := client.NewClient().SendNow(id)
			if err != nil {
				return err
			}
			fmt.Printf("Run %d queued (%s)\n", run.ID, run.Status)
			return nil
		},
	}

	sendTestCmd := &cobra.Command{
		Use:   "send-test [id]",
		Short: "Trigger a test delivery (does not affect the schedule)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			run, err := client.NewClient().SendTest(id)
			if err != nil {
				return err
			}
			fmt.Printf("Test run %d queued (%s)\n", run.ID, run.Status)
			return nil
		},
	}

	var count int
	nextCmd := &cobra.Command{
		Use:   "next [id]",
		Short: "Preview the upcoming run times",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			runs, err := client.NewClient().NextRuns(id, count)
			if err != nil {
				return err
			}
			for _, r := range runs {
				fmt.Println(r.Local().Format("2006-01-02 15:04 MST"))
			}
			return nil
		},
	}
	nextCmd.Flags().IntVar(&count, "count", 5, "Number of occurrences to preview")

	deleteCmd := &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a schedule (run history is retained)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if err := client.NewClient().DeleteSchedule(id); err != nil {
				return err
			}
			fmt.Println("Schedule deleted")
			return nil
		},
	}

	scheduleCmd.AddCommand(listCmd, pauseCmd, resumeCmd, sendNowCmd, sendTestCmd, nextCmd, deleteCmd)
	return scheduleCmd
}

func newRunCommand() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect execution history",
	}

	listCmd := &cobra.Command{
		Use:   "list [schedule-id]",
		Short: "List runs for a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			runs, err := client.NewClient().ListRuns(id)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tSTATUS\tTRIGGER\tTRIGGERED\tRECIPIENTS\tOK\tFAILED\tWARNINGS\t")
			for _, r := range runs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t\n",
					r.ID, r.Status, r.TriggeredBy,
					r.TriggeredAt.Local().Format("2006-01-02 15:04"),
					r.RecipientCount, r.SuccessfulDeliveries, r.FailedDeliveries, len(r.Warnings))
			}
			return w.Flush()
		},
	}

	deliveriesCmd := &cobra.Command{
		Use:   "deliveries [run-id]",
		Short: "List per-recipient delivery logs for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			logs, err := client.NewClient().ListDeliveries(id)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "RECIPIENT\tEMAIL\tSTATUS\tATTEMPTS\tERROR\t")
			for _, l := range logs {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t\n",
					l.RecipientName, l.RecipientEmail, l.Status, l.Attempts, l.ErrorMessage)
			}
			return w.Flush()
		},
	}

	runCmd.AddCommand(listCmd, deliveriesCmd)
	return runCmd
}

func newAuditCommand() *cobra.Command {
	var user, action string
	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Query the audit log",
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := client.NewClient().QueryAudit(user, action)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "TIME\tACTION\tENTITY\tNAME\tUSER\t")
			for _, e := range events {
				fmt.Fprintf(w, "%s\t%s\t%s/%d\t%s\t%s\t\n",
					e.CreatedAt.Local().Format("2006-01-02 15:04"),
					e.Action, e.EntityType, e.EntityID, e.EntityName, e.UserName)
			}
			return w.Flush()
		},
	}
	auditCmd.Flags().StringVar(&user, "user", "", "Filter by acting user id")
	auditCmd.Flags().StringVar(&action, "action", "", "Filter by action")
	return auditCmd
}

func newRecipientCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "recipients",
		Short: "List addressable users and groups",
		RunE: func(cmd *cobra.Command, args []string) error {
			recipients, err := client.NewClient().ListRecipients()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.TabIndent)
			fmt.Fprintln(w, "ID\tTYPE\tNAME\tEMAIL\tMEMBERS\t")
			for _, r := range recipients {
				members := ""
				if r.Type == models.RecipientTypeGroup {
					members = strconv.Itoa(r.MemberCount)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t\n", r.ID, r.Type, r.Name, r.Email, members)
			}
			return w.Flush()
		},
	}
}
