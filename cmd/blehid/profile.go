package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/srg/blehid/internal/hid"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Print the keyboard attribute table",
	Long: `Prints the HID service attributes in the order the keyboard creates them,
with their properties, permissions and initial values.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		if profileJSON {
			return writeProfileJSON(cmd.OutOrStdout())
		}
		return writeProfileTable(cmd.OutOrStdout())
	},
}

var profileJSON bool

func init() {
	profileCmd.Flags().BoolVar(&profileJSON, "json", false, "Print the table as JSON")
}

// maxValueBytes is the longest initial value printed in full
const maxValueBytes = 8

func formatValue(v []byte) string {
	switch {
	case v == nil:
		return "-"
	case len(v) > maxValueBytes:
		return fmt.Sprintf("%s… (%d bytes)", hex.EncodeToString(v[:maxValueBytes]), len(v))
	default:
		return hex.EncodeToString(v)
	}
}

func writeProfileTable(out io.Writer) error {
	fmt.Fprintf(out, "Service %s %s (%d handles)\n\n", hid.ServiceUUID, hid.KnownName(hid.ServiceUUID), hid.ServiceHandles)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLOT\tUUID\tNAME\tPROPERTIES\tPERMS\tVALUE")
	for _, c := range hid.Profile {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			c.Slot, c.UUID, hid.KnownName(c.UUID), c.Props, c.Perms, formatValue(c.Value))
		for _, d := range c.Descriptors {
			fmt.Fprintf(w, "  %s\t%s\t%s\t\t%s\t%s\n",
				d.Slot, d.UUID, hid.KnownName(d.UUID), d.Perms, formatValue(d.Value))
		}
	}
	return w.Flush()
}

type profileDescriptorJSON struct {
	Slot  hid.Slot `json:"slot"`
	UUID  string   `json:"uuid"`
	Name  string   `json:"name"`
	Perms string   `json:"perms"`
	Value string   `json:"value,omitempty"`
}

type profileCharacteristicJSON struct {
	Slot        hid.Slot                `json:"slot"`
	UUID        string                  `json:"uuid"`
	Name        string                  `json:"name"`
	Properties  string                  `json:"properties"`
	Perms       string                  `json:"perms"`
	MaxLen      int                     `json:"max_len"`
	Value       string                  `json:"value,omitempty"`
	Descriptors []profileDescriptorJSON `json:"descriptors,omitempty"`
}

func writeProfileJSON(out io.Writer) error {
	chars := make([]profileCharacteristicJSON, 0, len(hid.Profile))
	for _, c := range hid.Profile {
		pc := profileCharacteristicJSON{
			Slot:       c.Slot,
			UUID:       c.UUID.String(),
			Name:       hid.KnownName(c.UUID),
			Properties: c.Props.String(),
			Perms:      c.Perms.String(),
			MaxLen:     c.MaxLen,
			Value:      hex.EncodeToString(c.Value),
		}
		for _, d := range c.Descriptors {
			pc.Descriptors = append(pc.Descriptors, profileDescriptorJSON{
				Slot:  d.Slot,
				UUID:  d.UUID.String(),
				Name:  hid.KnownName(d.UUID),
				Perms: d.Perms.String(),
				Value: hex.EncodeToString(d.Value),
			})
		}
		chars = append(chars, pc)
	}

	data, err := json.MarshalIndent(struct {
		Service         string                      `json:"service"`
		Handles         int                         `json:"handles"`
		Characteristics []profileCharacteristicJSON `json:"characteristics"`
	}{
		Service:         hid.ServiceUUID.String(),
		Handles:         hid.ServiceHandles,
		Characteristics: chars,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode profile: %w", err)
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}
