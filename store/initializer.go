package store

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	ChainDirName    = "chain"
	PeeringDirName  = "peering"
	HostKeyFileName = "host.key"
)

type Result byte

const (
	Failed = Result(iota)
	Created
	AlreadyInitialized
)

func (r Result) String() string {
	switch r {
	case Failed:
		return "failed"
	case Created:
		return "created"
	case AlreadyInitialized:
		return "already initialized"
	}
	return "???"
}

var (
	ErrExists = errors.New("directory already exists")
	ErrProbe  = errors.New("failed to test directory")
)

// DirectoryInitializer creates the node's persistent store on first run
type DirectoryInitializer struct {
	networkName string
	// populate builds the store tree in the given empty directory
	populate func(dir string) error
}

func NewDirectoryInitializer(networkName string) *DirectoryInitializer {
	ret := &DirectoryInitializer{networkName: networkName}
	ret.populate = ret.populateTree
	return ret
}

func ChainDir(dir string) string {
	return filepath.Join(dir, ChainDirName)
}

func HostKeyPath(dir string) string {
	return filepath.Join(dir, PeeringDirName, HostKeyFileName)
}

// IsInitialized checks if the store directory exists.
// Error means the directory could not be probed
func IsInitialized(dir string) (bool, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("%w '%s': %v", ErrProbe, dir, err)
	}
	if !fi.IsDir() {
		return false, fmt.Errorf("%w '%s': not a directory", ErrProbe, dir)
	}
	return true, nil
}

// Initialize creates the store tree in dir. An existing directory is never touched.
// The tree is built in a temporary sibling directory and renamed onto dir, so on failure
// nothing is left behind, including the parent directories created by the call
func (di *DirectoryInitializer) Initialize(dir string) (Result, error) {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return Failed, fmt.Errorf("%w '%s': %v", ErrProbe, dir, err)
	}
	if _, err = os.Stat(dir); err == nil {
		return AlreadyInitialized, fmt.Errorf("%w: '%s'", ErrExists, dir)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Failed, fmt.Errorf("%w '%s': %v", ErrProbe, dir, err)
	}

	parent := filepath.Dir(dir)
	topCreated, err := topMissingDir(parent)
	if err != nil {
		return Failed, fmt.Errorf("%w '%s': %v", ErrProbe, parent, err)
	}
	cleanupParents := func() {
		if topCreated != "" {
			_ = os.RemoveAll(topCreated)
		}
	}
	if err = os.MkdirAll(parent, 0o755); err != nil {
		cleanupParents()
		return Failed, fmt.Errorf("can't create directory '%s': %w", parent, err)
	}
	tmpDir, err := os.MkdirTemp(parent, "."+filepath.Base(dir)+".init-*")
	if err != nil {
		cleanupParents()
		return Failed, fmt.Errorf("can't create temporary directory in '%s': %w", parent, err)
	}
	if err = di.populate(tmpDir); err == nil {
		err = os.Rename(tmpDir, dir)
	}
	if err != nil {
		_ = os.RemoveAll(tmpDir)
		cleanupParents()
		return Failed, fmt.Errorf("failed to initialize '%s': %w", dir, err)
	}
	return Created, nil
}

func (di *DirectoryInitializer) populateTree(dir string) error {
	if err := CreateChainStore(ChainDir(dir), GenesisHeader(di.networkName)); err != nil {
		return err
	}
	if err := os.Mkdir(filepath.Join(dir, PeeringDirName), 0o700); err != nil {
		return err
	}
	_, privateKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return err
	}
	return os.WriteFile(HostKeyPath(dir), []byte(hex.EncodeToString(privateKey)), 0o600)
}

// ReadHostKey reads host identity key of the initialized store
func ReadHostKey(dir string) (ed25519.PrivateKey, error) {
	data, err := os.ReadFile(HostKeyPath(dir))
	if err != nil {
		return nil, err
	}
	bin, err := hex.DecodeString(strings.TrimSpace(string(data)))
	if err != nil {
		return nil, fmt.Errorf("wrong host key in '%s': %w", HostKeyPath(dir), err)
	}
	if len(bin) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("wrong host key length in '%s'", HostKeyPath(dir))
	}
	return bin, nil
}

// topMissingDir returns the topmost ancestor of dir, including dir itself, which does not exist.
// Empty string means dir exists
func topMissingDir(dir string) (string, error) {
	missing := ""
	for p := filepath.Clean(dir); ; {
		_, err := os.Stat(p)
		if err == nil {
			return missing, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		missing = p
		up := filepath.Dir(p)
		if up == p {
			return missing, nil
		}
		p = up
	}
}
