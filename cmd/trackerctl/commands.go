package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/usefultools/backend/internal/models"
	"github.com/usefultools/backend/internal/services"
	"github.com/usefultools/backend/internal/storage"
)

var (
	conceptionDate string
	babyBirthDate  string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the stored profile and what it derives to today",
	RunE:  runShow,
}

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Set or clear profile dates",
	Long: `Set profile dates. Only the flags given are changed; pass an empty value
to clear a date.

Examples:
  trackerctl set --user u1 --conception 2026-01-01
  trackerctl set --user u1 --birth ""`,
	RunE: runSet,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow profile changes until interrupted",
	RunE:  runWatch,
}

func init() {
	setCmd.Flags().StringVar(&conceptionDate, "conception", "", "conception date (YYYY-MM-DD)")
	setCmd.Flags().StringVar(&babyBirthDate, "birth", "", "baby birth date (YYYY-MM-DD)")
}

// checkUser rejects --user values that would not address a single
// scoped profile.
func checkUser() error {
	if userID == "" {
		return nil
	}
	return storage.ValidateSegment(userID)
}

func runShow(cmd *cobra.Command, args []string) error {
	if err := checkUser(); err != nil {
		return err
	}
	stack, logger, closeStack, err := openStack(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStack()

	tracker := services.NewTracker(userID, stack.Profiles, services.RealClock{}, logger)
	unsubscribe, err := tracker.InitProfileListener(cmd.Context())
	if err != nil {
		return err
	}
	unsubscribe()

	return printSummary(cmd.OutOrStdout(), tracker.Profile(), services.RealClock{})
}

func runSet(cmd *cobra.Command, args []string) error {
	if err := checkUser(); err != nil {
		return err
	}
	changedConception := cmd.Flags().Changed("conception")
	changedBirth := cmd.Flags().Changed("birth")
	if !changedConception && !changedBirth {
		return fmt.Errorf("nothing to set: pass --conception and/or --birth")
	}

	req := models.UpdateProfileRequest{}
	if changedConception {
		req.ConceptionDate = &conceptionDate
	}
	if changedBirth {
		req.BabyBirthDate = &babyBirthDate
	}
	if errs := req.Validate(models.NewValidator(services.ParseDate)); len(errs) > 0 {
		for field, msg := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", field, msg)
		}
		return fmt.Errorf("invalid dates")
	}

	stack, logger, closeStack, err := openStack(cmd.Context())
	if err != nil {
		return err
	}
	defer closeStack()

	tracker := services.NewTracker(userID, stack.Profiles, services.RealClock{}, logger)
	unsubscribe, err := tracker.InitProfileListener(cmd.Context())
	if err != nil {
		return err
	}
	defer unsubscribe()

	if req.ConceptionDate != nil {
		tracker.SetConceptionDate(*req.ConceptionDate)
	}
	if req.BabyBirthDate != nil {
		tracker.SetBabyBirthDate(*req.BabyBirthDate)
	}
	if err := tracker.SaveProfile(cmd.Context()); err != nil {
		return err
	}
	return printSummary(cmd.OutOrStdout(), tracker.Profile(), services.RealClock{})
}

func runWatch(cmd *cobra.Command, args []string) error {
	if err := checkUser(); err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stack, _, closeStack, err := openStack(ctx)
	if err != nil {
		return err
	}
	defer closeStack()

	out := cmd.OutOrStdout()
	unsubscribe, err := stack.Profiles.Listen(ctx, userID, func(p *models.Profile) {
		if p == nil {
			fmt.Fprintln(out, "no profile stored yet")
			return
		}
		if err := printSummary(out, *p, services.RealClock{}); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
	})
	if err != nil {
		return err
	}
	defer unsubscribe()

	<-ctx.Done()
	return nil
}

func printSummary(w io.Writer, p models.Profile, clock services.Clock) error {
	now := clock.Now()

	fmt.Fprintf(w, "conception date: %s\n", orUnset(p.ConceptionDate))
	info, err := services.PregnancyInfo(p.ConceptionDate, now)
	if err != nil {
		return err
	}
	if info != nil {
		fmt.Fprintf(w, "  week %d, day %d (trimester %d)\n", info.CurrentWeek, info.CurrentDay, info.Trimester)
		fmt.Fprintf(w, "  due %s, %d days remaining, %.1f%%\n",
			info.DueDate.Format("2006-01-02"), info.DaysRemaining, info.Progress)
	}

	fmt.Fprintf(w, "baby birth date: %s\n", orUnset(p.BabyBirthDate))
	age, err := services.BabyAge(p.BabyBirthDate, now)
	if err != nil {
		return err
	}
	if age != nil {
		fmt.Fprintf(w, "  %d days, %d weeks, %d months\n", age.Days, age.Weeks, age.Months)
	}
	return nil
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
