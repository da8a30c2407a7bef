/*
 * Copyright (c) 2025 SECOM CO., LTD. All Rights reserved.
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package cli

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/kentakayama/tls-oracle/internal/certificate"
	"github.com/kentakayama/tls-oracle/internal/pinning"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newPinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pin HOST[:PORT]|URL",
		Short: "Print a pin policy entry for a live server or a certificate file",
		Long: `Print a pin policy entry.

Connects to the server (port 443 unless given), takes the leaf certificate it
presents and prints a YAML entry ready to paste into a pins file. With --cert
the certificate is read from a PEM or base64 DER file instead and HOST only
names the entry.

Examples:
  oracle pin api.binance.us
  oracle pin --by issuer https://api.binance.us/api/v3/ticker/price
  oracle pin --cert leaf.pem example.com`,
		Args: cobra.ExactArgs(1),
		RunE: runPin,
	}
	cmd.Flags().String("by", "spki", "Pin category: spki, fingerprint or issuer")
	cmd.Flags().String("cert", "", "Read the certificate from this file instead of connecting")
	cmd.Flags().Duration("timeout", 10*time.Second, "Connection timeout")
	cmd.MarkFlagFilename("cert", "pem", "crt", "der", "b64")
	cmd.RegisterFlagCompletionFunc("by", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{"spki", "fingerprint", "issuer"}, cobra.ShellCompDirectiveNoFileComp
	})
	return cmd
}

func runPin(cmd *cobra.Command, args []string) error {
	by, _ := cmd.Flags().GetString("by")
	certFile, _ := cmd.Flags().GetString("cert")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	host, addr, err := splitTarget(args[0])
	if err != nil {
		return err
	}

	var m *certificate.Material
	if certFile != "" {
		m, err = readCertificate(certFile)
	} else {
		m, err = fetchLeaf(cmd.Context(), addr, host, timeout)
	}
	if err != nil {
		return err
	}

	entry, err := pinEntry(host, m, by)
	if err != nil {
		return err
	}
	return writePinFile(cmd.OutOrStdout(), entry)
}

// splitTarget accepts a URL, host or host:port and returns the hostname and dial address.
func splitTarget(target string) (string, string, error) {
	if strings.Contains(target, "://") {
		u, err := url.Parse(target)
		if err != nil {
			return "", "", fmt.Errorf("parse %q: %w", target, err)
		}
		target = u.Host
	}
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		host, port = target, "443"
	}
	if host == "" {
		return "", "", fmt.Errorf("no hostname in %q", target)
	}
	return host, net.JoinHostPort(host, port), nil
}

func readCertificate(path string) (*certificate.Material, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return certificate.Decode(string(b))
}

func fetchLeaf(ctx context.Context, addr, host string, timeout time.Duration) (*certificate.Material, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	d := tls.Dialer{Config: &tls.Config{ServerName: host}}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer conn.Close()

	peers := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(peers) == 0 {
		return nil, fmt.Errorf("%s presented no certificate", addr)
	}
	return certificate.FromDER(peers[0].Raw)
}

func pinEntry(host string, m *certificate.Material, by string) (pinning.Entry, error) {
	e := pinning.Entry{Hostname: host}
	switch by {
	case "spki":
		e.SPKIHashes = []string{certificate.FormatColonHex(m.SPKIHash[:])}
	case "fingerprint":
		e.Fingerprints = []string{certificate.FormatColonHex(m.Fingerprint[:])}
	case "issuer":
		e.Issuers = []string{m.Issuer}
	default:
		return e, fmt.Errorf("unknown pin category %q", by)
	}
	// reject anything the loader would not accept
	if _, err := pinning.NewPolicy(e); err != nil {
		return e, err
	}
	return e, nil
}

func writePinFile(w io.Writer, e pinning.Entry) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(pinning.File{Pins: []pinning.Entry{e}}); err != nil {
		return err
	}
	return enc.Close()
}
