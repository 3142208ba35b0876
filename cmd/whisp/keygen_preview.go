// Copyright (C) 2025 whisp-net
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/whisp-net/whisp/identity"
)

var keygenPreviewCmd = &cobra.Command{
	Use:   "keygen-preview",
	Short: "Generate a throwaway identity and print its public key",
	Long: `Generates a fresh, unpersisted X25519 box keypair (and, with
--signed, an Ed25519 identity keypair deriving it) and prints the
base64-encoded public key an operator can hand to a bootstrap server's
allowlist before a node has ever run.`,
	RunE: runKeygenPreview,
}

var keygenSigned bool

func init() {
	rootCmd.AddCommand(keygenPreviewCmd)
	keygenPreviewCmd.Flags().BoolVar(&keygenSigned, "signed", false, "also generate an Ed25519 presence-signing identity")
}

func runKeygenPreview(cmd *cobra.Command, args []string) error {
	if keygenSigned {
		self, err := identity.NewSigned("")
		if err != nil {
			return fmt.Errorf("generate signed identity: %w", err)
		}
		fmt.Printf("box_pubkey:    %s\n", self.BoxPublicBase64())
		fmt.Printf("signing_pubkey: %s\n", self.SigningPublicBase64())
		return nil
	}

	self, err := identity.New("")
	if err != nil {
		return fmt.Errorf("generate identity: %w", err)
	}
	fmt.Printf("box_pubkey: %s\n", self.BoxPublicBase64())
	return nil
}
