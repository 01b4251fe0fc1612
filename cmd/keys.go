// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"crypto"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"strings"
)

// parsePrivateKey loads a PEM or raw-DER encoded private key from path,
// trying PKCS8, then EC, then PKCS1, same fallback order as the reference
// tooling's certificate manufacturing commands.
func parsePrivateKey(keyPath string) (crypto.Signer, error) {
	b, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, err
	}
	if blk, _ := pem.Decode(b); blk != nil {
		b = blk.Bytes
	}
	return parsePrivateKeyDER(b)
}

func parsePrivateKeyDER(b []byte) (crypto.Signer, error) {
	key, err := x509.ParsePKCS8PrivateKey(b)
	if err == nil {
		signer, ok := key.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("private key does not implement crypto.Signer")
		}
		return signer, nil
	}
	if strings.Contains(err.Error(), "ParseECPrivateKey") {
		ecKey, ecErr := x509.ParseECPrivateKey(b)
		if ecErr != nil {
			return nil, ecErr
		}
		return ecKey, nil
	}
	if strings.Contains(err.Error(), "ParsePKCS1PrivateKey") {
		rsaKey, rsaErr := x509.ParsePKCS1PrivateKey(b)
		if rsaErr != nil {
			return nil, rsaErr
		}
		return rsaKey, nil
	}
	return nil, fmt.Errorf("unable to parse private key: %w", err)
}
