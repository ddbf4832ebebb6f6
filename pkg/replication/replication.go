// Package replication walks the three-level tree of trees two endpoints keep
// for a dataset: a database tree whose records are collections, collection
// trees whose records are shards, and shard trees whose records are the
// actual items. Each level loads the same path from both endpoints, diffs the
// Merkle roots, and descends only into the parts that differ, so synchronized
// datasets cost three tree loads to compare.
package replication

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	logger "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/treedex/go-treedex/pkg/merkleindex"
	"github.com/treedex/go-treedex/pkg/storage"
)

// Side tells which endpoint is missing a record.
type Side int

const (
	// OnlyLocal marks records the local endpoint has and the remote lacks.
	OnlyLocal Side = iota
	// OnlyRemote marks records the remote endpoint has and the local lacks.
	OnlyRemote
)

func (s Side) String() string {
	if s == OnlyLocal {
		return "only-local"
	}
	return "only-remote"
}

// RecordDiff is one record-level difference. Collection and Shard are empty
// at the levels above them.
type RecordDiff struct {
	Collection string
	Shard      string
	Name       string
	Side       Side
}

// PathFunc maps a collection and shard to the storage path of the shard's
// tree. Shard is empty for collection-level trees.
type PathFunc func(collection, shard string) string

// Differ diffs trees stored on two endpoints. The local and remote tree of a
// pair are loaded concurrently; pairs are visited and records emitted one at a
// time.
type Differ struct {
	local  storage.Storage
	remote storage.Storage
	log    zerolog.Logger
}

// NewDiffer creates a Differ over the two endpoints.
func NewDiffer(local, remote storage.Storage) *Differ {
	return &Differ{
		local:  local,
		remote: remote,
		log:    logger.With().Str("component", "replicationdiffer").Logger(),
	}
}

// loadPair loads the tree at path from both endpoints, concurrently. Either
// side may be nil when the endpoint does not have the path.
func (d *Differ) loadPair(ctx context.Context, path string) (*merkleindex.Tree, *merkleindex.Tree, error) {
	var localTree, remoteTree *merkleindex.Tree
	errs, ctx := errgroup.WithContext(ctx)
	errs.Go(func() error {
		var err error
		if localTree, err = merkleindex.Load(ctx, d.local, path); err != nil {
			return fmt.Errorf("loading local %s: %s", path, err)
		}
		return nil
	})
	errs.Go(func() error {
		var err error
		if remoteTree, err = merkleindex.Load(ctx, d.remote, path); err != nil {
			return fmt.Errorf("loading remote %s: %s", path, err)
		}
		return nil
	})
	if err := errs.Wait(); err != nil {
		return nil, nil, err
	}
	return localTree, remoteTree, nil
}

// diffPair diffs the pair at path and returns the names present on one side
// only. An absent local tree yields nothing; an absent remote tree yields
// every local record.
func (d *Differ) diffPair(ctx context.Context, path string) ([]string, []string, error) {
	localTree, remoteTree, err := d.loadPair(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	if localTree == nil {
		return nil, nil, nil
	}
	if remoteTree == nil {
		var names []string
		merkleindex.EachLeaf(localTree.MerkleRoot(), func(leaf *merkleindex.MerkleNode) bool {
			names = append(names, leaf.Name())
			return true
		})
		return names, nil, nil
	}

	res, err := merkleindex.Diff(localTree.MerkleRoot(), remoteTree.MerkleRoot())
	if err != nil {
		return nil, nil, fmt.Errorf("diffing %s: %s", path, err)
	}
	if res.Identical {
		return nil, nil, nil
	}
	return collectNames(res.OnlyInA), collectNames(res.OnlyInB), nil
}

func collectNames(nodes []*merkleindex.MerkleNode) []string {
	var names []string
	for _, n := range nodes {
		names = append(names, merkleindex.LeafNames(n)...)
	}
	return names
}

// ShardDiff yields one RecordDiff per record that differs between the two
// copies of the shard tree at path. It stops with merkleindex.ErrCancelled
// when fn returns false.
func (d *Differ) ShardDiff(
	ctx context.Context,
	collection, shard, path string,
	fn func(RecordDiff) bool,
) error {
	onlyLocal, onlyRemote, err := d.diffPair(ctx, path)
	if err != nil {
		return err
	}
	d.log.Debug().
		Str("collection", collection).
		Str("shard", shard).
		Int("onlyLocal", len(onlyLocal)).
		Int("onlyRemote", len(onlyRemote)).
		Msg("shard diff")

	for _, name := range onlyLocal {
		if !fn(RecordDiff{Collection: collection, Shard: shard, Name: name, Side: OnlyLocal}) {
			return merkleindex.ErrCancelled
		}
	}
	for _, name := range onlyRemote {
		if !fn(RecordDiff{Collection: collection, Shard: shard, Name: name, Side: OnlyRemote}) {
			return merkleindex.ErrCancelled
		}
	}
	return nil
}

// CollectionDiff diffs the collection tree at path, then descends into every
// shard whose entry differs on either side.
func (d *Differ) CollectionDiff(
	ctx context.Context,
	collection, path string,
	shardPath PathFunc,
	fn func(RecordDiff) bool,
) error {
	onlyLocal, onlyRemote, err := d.diffPair(ctx, path)
	if err != nil {
		return err
	}
	for _, shard := range unionNames(onlyLocal, onlyRemote) {
		if err := d.ShardDiff(ctx, collection, shard, shardPath(collection, shard), fn); err != nil {
			return err
		}
	}
	return nil
}

// DatabaseDiff diffs the database tree at path, then descends into every
// collection whose entry differs on either side.
func (d *Differ) DatabaseDiff(
	ctx context.Context,
	path string,
	collectionPath PathFunc,
	shardPath PathFunc,
	fn func(RecordDiff) bool,
) error {
	onlyLocal, onlyRemote, err := d.diffPair(ctx, path)
	if err != nil {
		return err
	}
	for _, collection := range unionNames(onlyLocal, onlyRemote) {
		if err := d.CollectionDiff(ctx, collection, collectionPath(collection, ""), shardPath, fn); err != nil {
			return err
		}
	}
	return nil
}

// unionNames merges and sorts the two name lists, dropping duplicates: a
// changed entry appears on both sides but must be descended into once.
func unionNames(a, b []string) []string {
	seen := make(map[string]bool, len(a)+len(b))
	var union []string
	for _, name := range a {
		if !seen[name] {
			seen[name] = true
			union = append(union, name)
		}
	}
	for _, name := range b {
		if !seen[name] {
			seen[name] = true
			union = append(union, name)
		}
	}
	sort.Strings(union)
	return union
}
