package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/developingchet/wgd-bridge/internal/dashboard"
	"github.com/developingchet/wgd-bridge/internal/normalize"
	"github.com/developingchet/wgd-bridge/internal/storage"
)

type configView struct {
	Name    string `json:"name" yaml:"name"`
	Address string `json:"address" yaml:"address"`
	Peers   int    `json:"peers" yaml:"peers"`
	Active  int    `json:"active_peers" yaml:"active_peers"`
	Rx      int64  `json:"rx" yaml:"rx"`
	Tx      int64  `json:"tx" yaml:"tx"`
}

// configsCmd lists configurations with their peer counts.
func (a *app) configsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "configs",
		Short: "List WireGuard configurations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := s.dash.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			views := make([]configView, 0, len(snap))
			for _, name := range snap.Names() {
				cv := snap[name]
				v := configView{Name: name, Address: normalize.ConfigAddress(cv.Raw), Peers: len(cv.Peers)}
				for _, p := range cv.Peers {
					if p.Active {
						v.Active++
					}
					v.Rx += p.Rx
					v.Tx += p.Tx
				}
				views = append(views, v)
			}
			return render(a.out, output, views, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "NAME\tADDRESS\tPEERS\tACTIVE\tRX\tTX")
				for _, v := range views {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%s\t%s\n",
						v.Name, dash(v.Address), v.Peers, v.Active, bytesOf(v.Rx), bytesOf(v.Tx))
				}
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

// ensureConfigCmd creates a configuration unless it already exists.
func (a *app) ensureConfigCmd() *cobra.Command {
	var spec dashboard.ConfigSpec
	cmd := &cobra.Command{
		Use:   "ensure-config NAME",
		Short: "Create a configuration if it does not exist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			spec.Name = args[0]
			if err := s.dash.EnsureConfig(cmd.Context(), spec); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "configuration %s ready\n", spec.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&spec.Address, "address", "", "interface address in CIDR form, e.g. 10.66.66.1/24")
	cmd.Flags().IntVar(&spec.ListenPort, "port", 51820, "UDP listen port")
	cmd.Flags().StringVar(&spec.Protocol, "protocol", "wg", "protocol tag: wg or awg")
	cmd.Flags().StringVar(&spec.PrivateKey, "private-key", "", "interface private key; generated when empty")
	_ = cmd.MarkFlagRequired("address")
	return cmd
}

// deleteConfigCmd removes a configuration.
func (a *app) deleteConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-config NAME",
		Short: "Delete a configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			if err := s.dash.DeleteConfig(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "configuration %s deleted\n", args[0])
			return nil
		},
	}
}

// snapshotCmd prints every peer, optionally limited to one configuration.
func (a *app) snapshotCmd() *cobra.Command {
	var output, only string
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the normalized peer view",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := s.dash.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			if only != "" {
				if _, ok := snap[only]; !ok {
					return &dashboard.ErrNotFound{ID: only}
				}
			}
			views := []peerView{}
			for _, name := range snap.Names() {
				if only != "" && name != only {
					continue
				}
				for _, p := range snap[name].Peers {
					views = append(views, viewPeer(p))
				}
			}
			now := a.now()
			return render(a.out, output, views, func(tw *tabwriter.Writer) {
				writePeerHeader(tw)
				for _, v := range views {
					writePeerRow(tw, v, now)
				}
			})
		},
	}
	cmd.Flags().StringVar(&only, "config", "", "limit to one configuration")
	addOutputFlag(cmd, &output)
	return cmd
}

// totalsCmd prints the aggregate counters.
func (a *app) totalsCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "totals",
		Short: "Show aggregate peer and traffic totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			t, err := s.dash.Totals(cmd.Context())
			if err != nil {
				return err
			}
			return render(a.out, output, t, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "CONFIGS\tPEERS\tACTIVE\tINACTIVE\tRX\tTX")
				fmt.Fprintf(tw, "%d\t%d\t%d\t%d\t%s\t%s\n",
					t.Configs, t.Peers, t.ActivePeers, t.InactivePeers, bytesOf(t.Rx), bytesOf(t.Tx))
			})
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}

// findPeerCmd looks a peer up by id or public key.
func (a *app) findPeerCmd() *cobra.Command {
	var output, config string
	cmd := &cobra.Command{
		Use:   "find-peer IDENTIFIER",
		Short: "Find a peer by id or public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			snap, err := s.dash.Snapshot(cmd.Context())
			if err != nil {
				return err
			}
			p, ok := snap.FindPeer(config, args[0])
			if !ok {
				return &dashboard.ErrNotFound{ID: args[0]}
			}
			v := viewPeer(p)
			now := a.now()
			return render(a.out, output, v, func(tw *tabwriter.Writer) {
				writePeerHeader(tw)
				writePeerRow(tw, v, now)
			})
		},
	}
	cmd.Flags().StringVar(&config, "config", "", "search only this configuration")
	addOutputFlag(cmd, &output)
	return cmd
}

// createPeerCmd adds a peer and, with --owner, records who it was issued to.
func (a *app) createPeerCmd() *cobra.Command {
	var config, name, allowedIP, owner string
	cmd := &cobra.Command{
		Use:   "create-peer",
		Short: "Create a peer and print its public key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			if config == "" {
				config = s.cfg.Interface
			}
			publicKey, err := s.dash.CreatePeer(cmd.Context(), config, name, allowedIP)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, publicKey)

			if owner == "" {
				return nil
			}
			return a.withLedger(s, func(l storage.Ledger) error {
				return l.Record(storage.PeerRecord{
					Owner:     owner,
					Config:    config,
					PeerID:    publicKey,
					Name:      name,
					CreatedAt: a.now(),
				})
			})
		},
	}
	cmd.Flags().StringVar(&config, "config", "", "configuration name (default WGD_INTERFACE)")
	cmd.Flags().StringVar(&name, "name", "", "peer display name")
	cmd.Flags().StringVar(&allowedIP, "allowed-ip", "", "address to assign; allocated when empty")
	cmd.Flags().StringVar(&owner, "owner", "", "record the peer in the ownership ledger under this owner")
	return cmd
}

// deletePeerCmd removes a peer and revokes it in the ledger.
func (a *app) deletePeerCmd() *cobra.Command {
	var config string
	cmd := &cobra.Command{
		Use:   "delete-peer IDENTIFIER",
		Short: "Delete a peer by id or public key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			id := args[0]
			keys := a.ledgerKeys(cmd.Context(), s, config, id)
			if err := s.dash.DeletePeer(cmd.Context(), config, id); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "peer %s deleted\n", id)

			return a.withLedger(s, func(l storage.Ledger) error {
				for _, key := range keys {
					n, err := l.Revoke(config, key, a.now())
					if err != nil {
						return fmt.Errorf("revoke in ledger: %w", err)
					}
					s.log.Debug().Int("records", n).Str("peer", key).Msg("ledger revoked")
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&config, "config", "", "configuration name; looked up when empty")
	return cmd
}

// ledgerKeys returns every name the ledger may hold for identifier. Records
// are keyed by public key, so an id is resolved through a snapshot before the
// peer disappears. A failed lookup leaves only the identifier itself.
func (a *app) ledgerKeys(ctx context.Context, s *session, config, identifier string) []string {
	keys := []string{identifier}
	snap, err := s.dash.Snapshot(ctx)
	if err != nil {
		s.log.Debug().Err(err).Str("peer", identifier).Msg("snapshot unavailable; revoking by identifier only")
		return keys
	}
	p, ok := snap.FindPeer(config, identifier)
	if !ok {
		return keys
	}
	for _, k := range []string{p.PublicKey, p.ID} {
		if k != "" && !slices.Contains(keys, k) {
			keys = append(keys, k)
		}
	}
	return keys
}

// peerConfigCmd downloads a peer's client configuration.
func (a *app) peerConfigCmd() *cobra.Command {
	var config, out string
	cmd := &cobra.Command{
		Use:   "peer-config IDENTIFIER",
		Short: "Download a peer's client configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			pc, err := s.dash.GetPeerConfig(cmd.Context(), args[0], config)
			if err != nil {
				return err
			}
			if out == "" || out == "-" {
				_, err := fmt.Fprint(a.out, pc.Content)
				return err
			}
			path := out
			if fi, err := os.Stat(out); err == nil && fi.IsDir() {
				path = filepath.Join(out, pc.FileName)
			}
			if err := os.WriteFile(path, []byte(pc.Content), 0o600); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			fmt.Fprintf(a.out, "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&config, "config", "", "configuration name; looked up when empty")
	cmd.Flags().StringVar(&out, "out", "", "file or directory to write to; stdout when empty")
	return cmd
}

// nextAddressCmd prints the address the next peer would receive.
func (a *app) nextAddressCmd() *cobra.Command {
	var config string
	cmd := &cobra.Command{
		Use:   "next-address",
		Short: "Suggest the next free peer address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := a.open()
			if err != nil {
				return err
			}
			defer s.Close()

			if config == "" {
				config = s.cfg.Interface
			}
			addr, err := s.dash.SuggestNextAddress(cmd.Context(), config)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, addr)
			return nil
		},
	}
	cmd.Flags().StringVar(&config, "config", "", "configuration name (default WGD_INTERFACE)")
	return cmd
}

// ledgerCmd lists ownership records.
func (a *app) ledgerCmd() *cobra.Command {
	var output, owner string
	var all bool
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List peers recorded in the ownership ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			ledger, err := a.openLedger(cfg.DataDir)
			if err != nil {
				return fmt.Errorf("open ledger: %w", err)
			}
			defer ledger.Close()

			var recs []storage.PeerRecord
			if owner == "" {
				recs, err = ledger.List()
			} else {
				recs, err = ledger.ListByOwner(owner, all)
			}
			if err != nil {
				return err
			}
			views := []recordView{}
			for _, r := range recs {
				if !all && !r.Active() {
					continue
				}
				views = append(views, viewRecord(r))
			}
			return render(a.out, output, views, func(tw *tabwriter.Writer) {
				fmt.Fprintln(tw, "OWNER\tCONFIG\tPEER\tNAME\tCREATED\tREVOKED")
				for _, v := range views {
					revoked := "-"
					if v.RevokedAt != nil {
						revoked = v.RevokedAt.Format("2006-01-02 15:04")
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
						v.Owner, v.Config, v.PeerID, dash(v.Name), v.CreatedAt.Format("2006-01-02 15:04"), revoked)
				}
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only records of this owner")
	cmd.Flags().BoolVar(&all, "all", false, "include revoked records")
	addOutputFlag(cmd, &output)
	return cmd
}
