package store

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"
)

func TestCollectionIndexes(t *testing.T) {
	idx := collectionIndexes()

	pt, ok := idx[CollProviderTitles]
	if !ok || len(pt) == 0 {
		t.Fatal("no provider_titles indexes declared")
	}
	identity := pt[0]
	if identity.Options == nil || identity.Options.Unique == nil || !*identity.Options.Unique {
		t.Error("provider_titles identity index is not unique")
	}
	keys := identity.Keys.(bson.D)
	want := []string{"provider_id", "media_type", "upstream_id"}
	if len(keys) != len(want) {
		t.Fatalf("identity index has %d keys, want %d", len(keys), len(want))
	}
	for i, k := range keys {
		if k.Key != want[i] {
			t.Errorf("identity index key %d = %q, want %q", i, k.Key, want[i])
		}
	}

	for _, coll := range []string{CollChannels, CollPrograms} {
		models, ok := idx[coll]
		if !ok || len(models) == 0 {
			t.Errorf("no %s indexes declared", coll)
			continue
		}
		keys := models[0].Keys.(bson.D)
		if len(keys) != 1 || keys[0].Key != "provider_id" {
			t.Errorf("%s index keys = %v, want provider_id", coll, keys)
		}
	}
}
