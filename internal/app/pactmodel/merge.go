package pactmodel

import (
	"os"
	"path/filepath"
	"reflect"
	"time"

	retry "github.com/avast/retry-go/v4"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Merge combines the in-memory pact with one already on disk. Interactions
// present in both must be identical or the merge fails; new interactions
// are appended in order.
func Merge(existing, update *Pact) (*Pact, error) {
	if existing.Consumer.Name != update.Consumer.Name {
		return nil, errors.Errorf("consumer names differ: %q vs %q", existing.Consumer.Name, update.Consumer.Name)
	}
	if existing.Provider.Name != update.Provider.Name {
		return nil, errors.Errorf("provider names differ: %q vs %q", existing.Provider.Name, update.Provider.Name)
	}

	version := existing.SpecVersion
	if update.SpecVersion > version {
		version = update.SpecVersion
	}
	merged := &Pact{
		Consumer:     existing.Consumer,
		Provider:     existing.Provider,
		Interactions: append([]*Interaction(nil), existing.Interactions...),
		Metadata:     existing.Metadata,
		SpecVersion:  version,
	}

	for _, interaction := range update.Interactions {
		found := merged.FindInteraction(interaction)
		if found == nil {
			merged.Interactions = append(merged.Interactions, interaction)
			continue
		}
		same, err := interactionsEqual(found, interaction, version)
		if err != nil {
			return nil, err
		}
		if !same {
			return nil, errors.Errorf("interaction %q conflicts with the version already recorded", interaction.Description)
		}
	}
	return merged, nil
}

func interactionsEqual(a, b *Interaction, version SpecVersion) (bool, error) {
	aj, err := a.ToJSON(version)
	if err != nil {
		return false, err
	}
	bj, err := b.ToJSON(version)
	if err != nil {
		return false, err
	}
	return reflect.DeepEqual(aj, bj), nil
}

const lockRetryDelay = 50 * time.Millisecond

// lockFile takes an advisory lock on the target path by exclusively
// creating a sibling .lock file, retrying while another writer holds it.
// The returned release function removes the lock.
func lockFile(path string) (func(), error) {
	lockPath := path + ".lock"
	err := retry.Do(func() error {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err != nil {
			return err
		}
		return f.Close()
	}, retry.Delay(lockRetryDelay), retry.Attempts(100), retry.DelayType(retry.FixedDelay))
	if err != nil {
		return nil, errors.Wrapf(err, "unable to lock pact file %s", path)
	}
	return func() {
		if err := os.Remove(lockPath); err != nil {
			log.WithField("lock", lockPath).Warn("unable to release pact file lock")
		}
	}, nil
}

// WritePactFile writes the pact to dir under its conventional name,
// merging with an existing file. overwrite discards any existing content
// instead of merging. The write is atomic: temp file plus rename under
// the advisory lock.
func WritePactFile(pact *Pact, dir string, version SpecVersion, overwrite bool) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "unable to create pact directory %s", dir)
	}
	path := filepath.Join(dir, pact.DefaultFileName())

	release, err := lockFile(path)
	if err != nil {
		return "", err
	}
	defer release()

	toWrite := pact
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			existing, err := LoadPactFile(path)
			if err != nil {
				return "", errors.Wrap(err, "unable to merge with existing pact file")
			}
			merged, err := Merge(existing, pact)
			if err != nil {
				return "", err
			}
			toWrite = merged
			if merged.SpecVersion > version {
				version = merged.SpecVersion
			}
		}
	}

	data, err := toWrite.ToJSON(version)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(dir, ".pact-*")
	if err != nil {
		return "", errors.Wrap(err, "unable to create temporary pact file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", errors.Wrap(err, "unable to write pact file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrap(err, "unable to close pact file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", errors.Wrap(err, "unable to replace pact file")
	}

	log.WithFields(log.Fields{"path": path, "interactions": len(toWrite.Interactions)}).Info("pact file written")
	return path, nil
}
