package cmd

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/physiosim/physiosim/sim"
	"github.com/physiosim/physiosim/sim/alarm"
)

var (
	profileOut string // Where the patient profile is written
	alarmsOut  string // Where the alarm limits are written
	limitsSet  string // Built-in alarm limits to write
)

// defaultProfileCmd writes the built-in profile and alarm limits as editable YAML.
var defaultProfileCmd = &cobra.Command{
	Use:   "default-profile",
	Short: "Write the built-in patient profile and alarm limits as YAML",
	Run: func(cmd *cobra.Command, args []string) {
		if err := writeDefaults(profileOut, alarmsOut, limitsSet); err != nil {
			logrus.Fatalf("%v", err)
		}
	},
}

func writeDefaults(profilePath, alarmsPath, limits string) error {
	if profilePath != "" {
		if err := sim.WriteProfile(profilePath, sim.DefaultProfile()); err != nil {
			return err
		}
		logrus.Infof("Profile written to %s", profilePath)
	}
	if alarmsPath != "" {
		cfg, err := alarm.Profile(limits)
		if err != nil {
			return err
		}
		if err := alarm.SaveConfig(alarmsPath, cfg); err != nil {
			return err
		}
		logrus.Infof("Alarm limits (%s) written to %s", limits, alarmsPath)
	}
	return nil
}

func init() {
	defaultProfileCmd.Flags().StringVar(&profileOut, "out", "profile.yaml", "Output path for the patient profile")
	defaultProfileCmd.Flags().StringVar(&alarmsOut, "alarms-out", "", "Output path for the alarm limits (skipped if empty)")
	defaultProfileCmd.Flags().StringVar(&limitsSet, "alarm-profile", alarm.ProfileAdult, "Built-in alarm limits to write")
}
