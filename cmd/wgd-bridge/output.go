package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/storage"
)

const (
	formatTable = "table"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

func addOutputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", formatTable, "output format: table, json or yaml")
}

// render writes v as JSON or YAML, or calls table with a tab-aligned writer.
func render(w io.Writer, format string, v any, table func(tw *tabwriter.Writer)) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatTable, "":
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		table(tw)
		return tw.Flush()
	default:
		return fmt.Errorf("unknown output format %q (want table, json or yaml)", format)
	}
}

type peerView struct {
	Config        string `json:"config" yaml:"config"`
	ID            string `json:"id" yaml:"id"`
	PublicKey     string `json:"public_key" yaml:"public_key"`
	Name          string `json:"name" yaml:"name"`
	AllowedIP     string `json:"allowed_ip" yaml:"allowed_ip"`
	Rx            int64  `json:"rx" yaml:"rx"`
	Tx            int64  `json:"tx" yaml:"tx"`
	LastHandshake *int64 `json:"last_handshake" yaml:"last_handshake"`
	Active        bool   `json:"active" yaml:"active"`
}

func viewPeer(p dashboard.Peer) peerView {
	return peerView{
		Config:        p.Config,
		ID:            p.ID,
		PublicKey:     p.PublicKey,
		Name:          p.Name,
		AllowedIP:     p.AllowedIP,
		Rx:            p.Rx,
		Tx:            p.Tx,
		LastHandshake: p.LastHandshake,
		Active:        p.Active,
	}
}

func writePeerHeader(tw *tabwriter.Writer) {
	fmt.Fprintln(tw, "CONFIG\tNAME\tPUBLIC KEY\tALLOWED IP\tRX\tTX\tHANDSHAKE\tSTATE")
}

func writePeerRow(tw *tabwriter.Writer, p peerView, now time.Time) {
	state := "inactive"
	if p.Active {
		state = "active"
	}
	fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
		p.Config, dash(p.Name), p.PublicKey, dash(p.AllowedIP),
		bytesOf(p.Rx), bytesOf(p.Tx), handshakeAge(p.LastHandshake, now), state)
}

type recordView struct {
	Owner     string     `json:"owner" yaml:"owner"`
	Config    string     `json:"config" yaml:"config"`
	PeerID    string     `json:"peer_id" yaml:"peer_id"`
	Name      string     `json:"name" yaml:"name"`
	CreatedAt time.Time  `json:"created_at" yaml:"created_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty" yaml:"revoked_at,omitempty"`
}

func viewRecord(r storage.PeerRecord) recordView {
	v := recordView{
		Owner:     r.Owner,
		Config:    r.Config,
		PeerID:    r.PeerID,
		Name:      r.Name,
		CreatedAt: r.CreatedAt.UTC(),
	}
	if !r.Active() {
		at := r.RevokedAt.UTC()
		v.RevokedAt = &at
	}
	return v
}

func bytesOf(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}

func handshakeAge(ts *int64, now time.Time) string {
	if ts == nil {
		return "never"
	}
	return humanize.RelTime(time.Unix(*ts, 0), now, "ago", "from now")
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
