package livetv

import (
	"testing"

	"github.com/streamarc/streamarc/internal/models"
)

func ch(providerID, channelID, url string) *models.Channel {
	return &models.Channel{
		Key:        models.ChannelKey(providerID, channelID),
		ProviderID: providerID,
		ChannelID:  channelID,
		URL:        url,
	}
}

func TestDiffChannels(t *testing.T) {
	existing := []*models.Channel{
		ch("px", "1", "http://old/1"),
		ch("px", "2", "http://old/2"),
		ch("px", "3", "http://old/3"),
	}
	incoming := []*models.Channel{
		ch("px", "2", "http://old/2"), // unchanged
		ch("px", "3", "http://new/3"), // url moved
		ch("px", "4", "http://new/4"), // new
	}

	inserts, urlUpdates, deleteKeys := DiffChannels(existing, incoming)
	if len(inserts) != 1 || inserts[0].Key != "live-px-4" {
		t.Errorf("inserts = %+v", inserts)
	}
	if len(urlUpdates) != 1 || urlUpdates["live-px-3"] != "http://new/3" {
		t.Errorf("urlUpdates = %v", urlUpdates)
	}
	if len(deleteKeys) != 1 || deleteKeys[0] != "live-px-1" {
		t.Errorf("deleteKeys = %v", deleteKeys)
	}
}

func TestDiffChannels_identicalSetsAreNoop(t *testing.T) {
	existing := []*models.Channel{ch("px", "1", "http://a")}
	incoming := []*models.Channel{ch("px", "1", "http://a")}

	inserts, urlUpdates, deleteKeys := DiffChannels(existing, incoming)
	if len(inserts)+len(urlUpdates)+len(deleteKeys) != 0 {
		t.Errorf("expected no-op, got %v %v %v", inserts, urlUpdates, deleteKeys)
	}
}

func TestDiffChannels_duplicateIncomingKeepsFirst(t *testing.T) {
	incoming := []*models.Channel{
		ch("px", "1", "http://first"),
		ch("px", "1", "http://second"),
	}
	inserts, _, _ := DiffChannels(nil, incoming)
	if len(inserts) != 1 || inserts[0].URL != "http://first" {
		t.Errorf("inserts = %+v", inserts)
	}
}

func TestDiffChannels_emptyUpstreamDeletesEverything(t *testing.T) {
	existing := []*models.Channel{
		ch("px", "1", "http://a"),
		ch("px", "2", "http://b"),
	}
	inserts, urlUpdates, deleteKeys := DiffChannels(existing, nil)
	if len(inserts) != 0 || len(urlUpdates) != 0 || len(deleteKeys) != 2 {
		t.Errorf("got %v %v %v", inserts, urlUpdates, deleteKeys)
	}
}

func TestChannelKey(t *testing.T) {
	if got := models.ChannelKey("px", "447"); got != "live-px-447" {
		t.Errorf("key = %q", got)
	}
}
