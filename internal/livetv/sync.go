package livetv

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/streamarc/streamarc/internal/diskcache"
	"github.com/streamarc/streamarc/internal/fetch"
	"github.com/streamarc/streamarc/internal/models"
	"github.com/streamarc/streamarc/internal/providers"
	"github.com/streamarc/streamarc/internal/store"
)

// Syncer ingests live channels and their EPG for every active provider.
type Syncer struct {
	providers *store.ProviderStore
	channels  *store.ChannelStore
	programs  *store.ProgramStore
	fetcher   *fetch.Client
	policy    *diskcache.PolicyHolder
	log       *logrus.Logger
}

func NewSyncer(provs *store.ProviderStore, channels *store.ChannelStore, programs *store.ProgramStore, fetcher *fetch.Client, policy *diskcache.PolicyHolder, log *logrus.Logger) *Syncer {
	return &Syncer{providers: provs, channels: channels, programs: programs, fetcher: fetcher, policy: policy, log: log}
}

// Run syncs channels first, then the guide, per provider. A provider failure
// does not stop the rest.
func (s *Syncer) Run(ctx context.Context) (string, error) {
	provs, err := s.providers.ListActive(ctx)
	if err != nil {
		return "", fmt.Errorf("list providers: %w", err)
	}

	synced := 0
	var errs []error
	for _, prov := range provs {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		log := s.log.WithField("provider", prov.ID)
		if err := s.syncChannels(ctx, prov); err != nil {
			errs = append(errs, fmt.Errorf("%s channels: %w", prov.ID, err))
			log.WithError(err).Error("LiveTV: channel sync failed")
			continue
		}
		if err := s.syncGuide(ctx, prov); err != nil {
			errs = append(errs, fmt.Errorf("%s guide: %w", prov.ID, err))
			log.WithError(err).Error("LiveTV: guide sync failed")
			continue
		}
		synced++
	}

	summary := fmt.Sprintf("synced live tv for %d/%d providers", synced, len(provs))
	if len(errs) > 0 {
		return summary, errors.Join(errs...)
	}
	return summary, nil
}

// syncChannels fetches the provider's current channel list and commits the
// diff against the store in one bulk write.
func (s *Syncer) syncChannels(ctx context.Context, prov *models.Provider) error {
	incoming, err := s.channelList(ctx, prov)
	if err != nil {
		return err
	}
	existing, err := s.channels.ListByProvider(ctx, prov.ID)
	if err != nil {
		return err
	}
	inserts, urlUpdates, deleteKeys := DiffChannels(existing, incoming)
	if len(inserts)+len(urlUpdates)+len(deleteKeys) == 0 {
		return nil
	}
	s.log.WithFields(logrus.Fields{
		"provider": prov.ID,
		"insert":   len(inserts),
		"update":   len(urlUpdates),
		"delete":   len(deleteKeys),
	}).Info("LiveTV: channel diff")
	return s.channels.ApplyDiff(ctx, inserts, urlUpdates, deleteKeys)
}

func (s *Syncer) channelList(ctx context.Context, prov *models.Provider) ([]*models.Channel, error) {
	switch prov.Kind {
	case models.ProviderXtream:
		xc := providers.NewXtreamClient(prov, s.fetcher, s.policy)
		streams, err := xc.LiveStreams(ctx)
		if err != nil {
			return nil, err
		}
		out := make([]*models.Channel, 0, len(streams))
		for _, st := range streams {
			id := st.StreamID.String()
			if id == "" {
				continue
			}
			out = append(out, &models.Channel{
				Key:        models.ChannelKey(prov.ID, id),
				ProviderID: prov.ID,
				ChannelID:  id,
				Name:       st.Name,
				Category:   st.CategoryID.String(),
				TvgID:      st.EPGChannelID,
				URL:        xc.LiveURL(id),
			})
		}
		return out, nil

	case models.ProviderM3U:
		mc := providers.NewM3UClient(prov, s.fetcher, s.policy)
		playlist, err := mc.Playlist(ctx)
		if err != nil {
			return nil, err
		}
		var out []*models.Channel
		for _, e := range playlist {
			if providers.IsVOD(e) {
				continue
			}
			id := e.TvgID
			if id == "" {
				id = e.Name
			}
			if id == "" {
				continue
			}
			out = append(out, &models.Channel{
				Key:        models.ChannelKey(prov.ID, id),
				ProviderID: prov.ID,
				ChannelID:  id,
				Name:       e.Name,
				Category:   e.GroupTitle,
				TvgID:      e.TvgID,
				URL:        e.URL,
			})
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown provider kind %q", prov.Kind)
}

// DiffChannels compares the stored channel set against the upstream list:
// unseen keys insert, matching keys with a new URL update, stored keys the
// upstream dropped delete. Duplicate incoming keys keep the first occurrence.
func DiffChannels(existing, incoming []*models.Channel) (inserts []*models.Channel, urlUpdates map[string]string, deleteKeys []string) {
	current := make(map[string]*models.Channel, len(existing))
	for _, ch := range existing {
		current[ch.Key] = ch
	}

	urlUpdates = make(map[string]string)
	seen := make(map[string]bool, len(incoming))
	for _, ch := range incoming {
		if seen[ch.Key] {
			continue
		}
		seen[ch.Key] = true
		old, ok := current[ch.Key]
		if !ok {
			inserts = append(inserts, ch)
			continue
		}
		if old.URL != ch.URL {
			urlUpdates[ch.Key] = ch.URL
		}
	}
	for _, ch := range existing {
		if !seen[ch.Key] {
			deleteKeys = append(deleteKeys, ch.Key)
		}
	}
	return inserts, urlUpdates, deleteKeys
}

// syncGuide streams the provider's XMLTV document and rebuilds its programs.
// Providers without a guide URL are skipped.
func (s *Syncer) syncGuide(ctx context.Context, prov *models.Provider) error {
	guideURL := prov.EPGURL
	if guideURL == "" && prov.Kind == models.ProviderXtream {
		guideURL = providers.NewXtreamClient(prov, s.fetcher, s.policy).GuideURL()
	}
	if guideURL == "" {
		return nil
	}

	tvgIDs, err := s.channels.TvgIDSet(ctx, prov.ID)
	if err != nil {
		return err
	}
	if len(tvgIDs) == 0 {
		s.log.WithField("provider", prov.ID).Info("LiveTV: no tvg ids, skipping guide")
		return nil
	}

	body, err := s.fetcher.FetchStream(ctx, prov.ID, http.MethodGet, guideURL, fetch.Options{})
	if err != nil {
		return err
	}
	defer body.Close()

	programs, skipped, err := ParseGuide(ctx, body, prov.ID, tvgIDs, s.log)
	if err != nil {
		return err
	}
	inserted, err := s.programs.ReplaceProvider(ctx, prov.ID, programs)
	if err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"provider": prov.ID,
		"inserted": inserted,
		"skipped":  skipped,
	}).Info("LiveTV: guide rebuilt")
	return nil
}
