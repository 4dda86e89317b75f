package gpg

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/xlog"
	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"
)

// Identity is a user id of a key
type Identity struct {
	Name    string `json:"name,omitempty"`
	Email   string `json:"email,omitempty"`
	Comment string `json:"comment,omitempty"`
}

// SubkeyInfo describes a subkey
type SubkeyInfo struct {
	Fingerprint string `json:"fingerprint"`
	Algorithm   string `json:"algorithm"`
	BitLength   int    `json:"bit_length,omitempty"`
}

// KeyInfo describes a key read from an exported key file
type KeyInfo struct {
	Fingerprint string       `json:"fingerprint"`
	KeyID       string       `json:"key_id"`
	Algorithm   string       `json:"algorithm"`
	BitLength   int          `json:"bit_length,omitempty"`
	Private     bool         `json:"private"`
	Identities  []Identity   `json:"identities,omitempty"`
	Subkeys     []SubkeyInfo `json:"subkeys,omitempty"`
}

// KeyRing reads an openpgp.EntityList from the given data, which may hold
// binary key packets or one or more armored blocks. Armored blocks other
// than public or private key blocks are skipped.
func KeyRing(data []byte) (openpgp.EntityList, error) {
	keyring := make(openpgp.EntityList, 0)

	r := bufio.NewReader(bytes.NewReader(data))
	armored := false
	for {
		block, err := armor.Decode(r)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.WithStack(err)
		}
		armored = true

		// the body must be drained before the next block is decoded
		body, err := io.ReadAll(block.Body)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if block.Type != openpgp.PublicKeyType && block.Type != openpgp.PrivateKeyType {
			logger.KV(xlog.TRACE, "reason", "skip_block", "type", block.Type)
			continue
		}

		el, err := openpgp.ReadKeyRing(bytes.NewReader(body))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		// append keyring
		keyring = append(keyring, el...)
	}

	if !armored {
		el, err := openpgp.ReadKeyRing(bytes.NewReader(data))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		keyring = el
	}
	if len(keyring) == 0 {
		return nil, errors.New("no keys found")
	}

	return keyring, nil
}

// KeyRingFromFile reads a openpgp.KeyRing from the given file path
func KeyRingFromFile(path string) (openpgp.EntityList, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	k, err := KeyRing(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "unable to read keys: %q", path)
	}

	return k, nil
}

// KeyRingFromFiles reads a openpgp.KeyRing from the given file paths
func KeyRingFromFiles(files []string) (openpgp.EntityList, error) {
	keyring := make(openpgp.EntityList, 0)
	for _, path := range files {
		// read keyring in file
		el, err := KeyRingFromFile(path)
		if err != nil {
			return nil, err
		}

		// append keyring
		keyring = append(keyring, el...)
	}

	return keyring, nil
}

// DescribeKeys returns KeyInfo for each entity
func DescribeKeys(keyring openpgp.EntityList) []KeyInfo {
	list := make([]KeyInfo, 0, len(keyring))
	for _, e := range keyring {
		info := KeyInfo{
			Fingerprint: fmt.Sprintf("%X", e.PrimaryKey.Fingerprint),
			KeyID:       e.PrimaryKey.KeyIdString(),
			Algorithm:   algorithmName(e.PrimaryKey.PubKeyAlgo),
			BitLength:   bitLength(e.PrimaryKey),
			Private:     e.PrivateKey != nil,
		}
		for _, id := range e.Identities {
			if id.UserId == nil {
				continue
			}
			info.Identities = append(info.Identities, Identity{
				Name:    id.UserId.Name,
				Email:   id.UserId.Email,
				Comment: id.UserId.Comment,
			})
		}
		sort.Slice(info.Identities, func(i, j int) bool {
			return info.Identities[i].Name < info.Identities[j].Name
		})
		for _, sk := range e.Subkeys {
			info.Subkeys = append(info.Subkeys, SubkeyInfo{
				Fingerprint: fmt.Sprintf("%X", sk.PublicKey.Fingerprint),
				Algorithm:   algorithmName(sk.PublicKey.PubKeyAlgo),
				BitLength:   bitLength(sk.PublicKey),
			})
		}
		list = append(list, info)
	}
	return list
}

func bitLength(pk *packet.PublicKey) int {
	n, err := pk.BitLength()
	if err != nil {
		return 0
	}
	return int(n)
}

func algorithmName(algo packet.PublicKeyAlgorithm) string {
	switch algo {
	case packet.PubKeyAlgoRSA, packet.PubKeyAlgoRSAEncryptOnly, packet.PubKeyAlgoRSASignOnly:
		return "RSA"
	case packet.PubKeyAlgoDSA:
		return "DSA"
	case packet.PubKeyAlgoElGamal:
		return "ELG"
	case packet.PubKeyAlgoECDSA:
		return "ECDSA"
	case packet.PubKeyAlgoECDH:
		return "ECDH"
	default:
		return fmt.Sprintf("ALGO_%d", algo)
	}
}
