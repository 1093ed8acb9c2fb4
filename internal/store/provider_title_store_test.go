package store

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/streamarc/streamarc/internal/models"
)

// A path present under two update operators is rejected server-side, so the
// upsert document must keep $set and $setOnInsert disjoint for every shape of
// incoming title.
func TestUpsertUpdateOperatorPathsDisjoint(t *testing.T) {
	now := time.Now().UTC()
	cases := []*models.ProviderTitle{
		{ProviderID: "p1", MediaType: models.MediaTypeMovies, UpstreamID: "1", Name: "Heat"},
		{ProviderID: "p1", MediaType: models.MediaTypeMovies, UpstreamID: "2", Name: "Bad", Ignored: true, IgnoredReason: "extended info fetch failed"},
		{ProviderID: "p1", MediaType: models.MediaTypeTVShows, UpstreamID: "3", Name: "The Wire", TMDBID: 1438},
	}
	for _, pt := range cases {
		update := upsertUpdate(pt, now)
		set := update["$set"].(bson.M)
		onInsert := update["$setOnInsert"].(bson.M)
		for path := range set {
			if _, dup := onInsert[path]; dup {
				t.Errorf("title %s: path %q in both $set and $setOnInsert", pt.UpstreamID, path)
			}
		}
		if _, ok := onInsert["createdAt"]; !ok {
			t.Errorf("title %s: $setOnInsert missing createdAt", pt.UpstreamID)
		}
	}
}

func TestUpsertUpdateIgnoredLifecycle(t *testing.T) {
	now := time.Now().UTC()

	failed := &models.ProviderTitle{
		ProviderID: "p1", MediaType: models.MediaTypeMovies, UpstreamID: "9",
		Name: "Broken", Ignored: true, IgnoredReason: "extended info fetch failed",
	}
	set := upsertUpdate(failed, now)["$set"].(bson.M)
	if set["ignored"] != true {
		t.Errorf("failed fetch: ignored = %v, want true", set["ignored"])
	}
	if set["ignored_reason"] != "extended info fetch failed" {
		t.Errorf("failed fetch: ignored_reason = %v", set["ignored_reason"])
	}

	// A later clean fetch writes ignored false and clears the reason, so the
	// matcher and reconciler see the title again.
	recovered := &models.ProviderTitle{
		ProviderID: "p1", MediaType: models.MediaTypeMovies, UpstreamID: "9", Name: "Broken",
	}
	set = upsertUpdate(recovered, now)["$set"].(bson.M)
	if set["ignored"] != false {
		t.Errorf("recovery: ignored = %v, want false", set["ignored"])
	}
	if set["ignored_reason"] != "" {
		t.Errorf("recovery: ignored_reason = %v, want cleared", set["ignored_reason"])
	}
}

func TestUpsertUpdateTMDBID(t *testing.T) {
	now := time.Now().UTC()

	unmatched := &models.ProviderTitle{ProviderID: "p1", MediaType: models.MediaTypeMovies, UpstreamID: "4", Name: "Heat"}
	set := upsertUpdate(unmatched, now)["$set"].(bson.M)
	if _, ok := set["tmdb_id"]; ok {
		t.Error("zero tmdb_id must not clobber an existing match")
	}

	matched := &models.ProviderTitle{ProviderID: "p1", MediaType: models.MediaTypeMovies, UpstreamID: "4", Name: "Heat", TMDBID: 949}
	set = upsertUpdate(matched, now)["$set"].(bson.M)
	if set["tmdb_id"] != 949 {
		t.Errorf("tmdb_id = %v, want 949", set["tmdb_id"])
	}
}
