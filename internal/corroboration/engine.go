// Package corroboration решает, подтверждает ли новый отчет уже известный
// инцидент. Подтверждение считается по независимым устройствам рядом по
// месту и времени, вклад каждого устройства равен его доверию.
package corroboration

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shenikar/crowd_report_trust/internal/category"
	"github.com/shenikar/crowd_report_trust/internal/geo"
	"github.com/shenikar/crowd_report_trust/internal/models"
)

// scoreEpsilon компенсирует ошибку округления при сумме доверия
const scoreEpsilon = 1e-9

// Source - данные, которые нужны движку из хранилища
type Source interface {
	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	FindNearby(ctx context.Context, q models.NearbyQuery) ([]*models.Incident, error)
	GetDevices(ctx context.Context, hashes []string) (map[string]*models.DeviceTrustRecord, error)
}

// Outcome - итог оценки отчета
type Outcome string

const (
	// OutcomeSuppressed - устройство забанено, отчет не сохраняется
	OutcomeSuppressed Outcome = "suppressed"
	// OutcomeFresh - совпадений нет, новый инцидент
	OutcomeFresh Outcome = "fresh"
	// OutcomeDuplicate - устройство уже сообщало об этом событии
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomePending - совпадения есть, но порог не достигнут
	OutcomePending Outcome = "pending"
	// OutcomeVerify - порог достигнут, представитель переходит в Verified
	OutcomeVerify Outcome = "verify"
	// OutcomeCorroborate - представитель уже Verified
	OutcomeCorroborate Outcome = "corroborate"
)

// Params - параметры поиска и порог для категории
type Params struct {
	RadiusMeters float64
	Window       time.Duration
	Threshold    float64
}

// Decision - результат Evaluate
type Decision struct {
	Outcome              Outcome
	RepresentativeID     uuid.UUID
	RepresentativeStatus models.Status
	// MatchedIncidentIDs - засчитанные совпадения, по одному на устройство
	MatchedIncidentIDs []uuid.UUID
	// ContributingDevices - устройства, вошедшие в score; первым идет автор отчета
	ContributingDevices []string
	Score               float64
	Threshold           float64
}

// HasRepresentative сообщает, что отчет привязывается к кластеру
func (d Decision) HasRepresentative() bool {
	return d.RepresentativeID != uuid.Nil
}

type Engine struct {
	catalog  *category.Catalog
	defaults Params
}

func NewEngine(catalog *category.Catalog, defaults Params) *Engine {
	return &Engine{catalog: catalog, defaults: defaults}
}

// ParamsFor возвращает параметры с учетом настроек категории
func (e *Engine) ParamsFor(incidentType string) Params {
	p := e.defaults
	if cat, ok := e.catalog.Lookup(incidentType); ok {
		p.RadiusMeters = cat.Radius(p.RadiusMeters)
		p.Window = cat.Window(p.Window)
	}
	return p
}

type candidate struct {
	incident *models.Incident
	root     *models.Incident
	dt       time.Duration
	distance float64
}

// Evaluate оценивает новый отчет inc от устройства reporter.
// inc еще не сохранен; Evaluate ничего не пишет.
func (e *Engine) Evaluate(ctx context.Context, src Source, inc *models.Incident, reporter *models.DeviceTrustRecord) (Decision, error) {
	params := e.ParamsFor(inc.Type)
	d := Decision{
		Outcome:             OutcomeFresh,
		Score:               reporter.TrustScore,
		Threshold:           params.Threshold,
		ContributingDevices: []string{reporter.DeviceHash},
	}
	if reporter.IsBanned {
		d.Outcome = OutcomeSuppressed
		d.Score = 0
		d.ContributingDevices = nil
		return d, nil
	}

	nearby, err := src.FindNearby(ctx, models.NearbyQuery{
		Type:         inc.Type,
		Latitude:     inc.Latitude,
		Longitude:    inc.Longitude,
		RadiusMeters: params.RadiusMeters,
		Since:        inc.Timestamp.Add(-params.Window),
	})
	if err != nil {
		return Decision{}, fmt.Errorf("corroboration: could not find nearby incidents: %w", err)
	}

	candidates, err := e.liveCandidates(ctx, src, inc, nearby)
	if err != nil {
		return Decision{}, err
	}
	if len(candidates) == 0 {
		return d, nil
	}
	sortCandidates(candidates)

	// один отчет на устройство; свои прошлые отчеты не подтверждают новый
	best := make(map[string]*candidate)
	var own *candidate
	for _, c := range candidates {
		hash := c.incident.DeviceHash
		if hash == reporter.DeviceHash {
			if own == nil {
				own = c
			}
			continue
		}
		if _, ok := best[hash]; !ok {
			best[hash] = c
		}
	}
	if own != nil {
		d.Outcome = OutcomeDuplicate
		d.RepresentativeID = own.root.ID
		d.RepresentativeStatus = own.root.Status
		return d, nil
	}

	hashes := make([]string, 0, len(best))
	for h := range best {
		hashes = append(hashes, h)
	}
	devices, err := src.GetDevices(ctx, hashes)
	if err != nil {
		return Decision{}, fmt.Errorf("corroboration: could not load devices: %w", err)
	}

	counted := make([]*candidate, 0, len(best))
	for h, c := range best {
		dev, ok := devices[h]
		if !ok || dev.IsBanned {
			continue
		}
		counted = append(counted, c)
		d.Score += dev.TrustScore
	}
	if len(counted) == 0 {
		return d, nil
	}
	sortCandidates(counted)

	for _, c := range counted {
		d.MatchedIncidentIDs = append(d.MatchedIncidentIDs, c.incident.ID)
		d.ContributingDevices = append(d.ContributingDevices, c.incident.DeviceHash)
	}

	rep := counted[0].root
	d.RepresentativeID = rep.ID
	d.RepresentativeStatus = rep.Status
	switch {
	case rep.Status == models.StatusVerified:
		d.Outcome = OutcomeCorroborate
	case d.Score+scoreEpsilon >= params.Threshold:
		d.Outcome = OutcomeVerify
	default:
		d.Outcome = OutcomePending
	}
	return d, nil
}

// liveCandidates отбрасывает сам отчет, закрытые инциденты и участников
// закрытых кластеров, и находит представителя для каждого кандидата
func (e *Engine) liveCandidates(ctx context.Context, src Source, inc *models.Incident, nearby []*models.Incident) ([]*candidate, error) {
	roots := make(map[uuid.UUID]*models.Incident)
	out := make([]*candidate, 0, len(nearby))
	for _, n := range nearby {
		if n.ID == inc.ID || n.Type != inc.Type || n.Status == models.StatusResolved {
			continue
		}
		rootID := n.RootID()
		root, ok := roots[rootID]
		if !ok {
			if rootID == n.ID {
				root = n
			} else {
				r, err := src.GetIncident(ctx, rootID)
				if err != nil {
					return nil, fmt.Errorf("corroboration: could not load cluster %s: %w", rootID, err)
				}
				root = r
			}
			roots[rootID] = root
		}
		if root.Status == models.StatusResolved {
			continue
		}
		dt := inc.Timestamp.Sub(n.Timestamp)
		if dt < 0 {
			dt = -dt
		}
		out = append(out, &candidate{
			incident: n,
			root:     root,
			dt:       dt,
			distance: geo.DistanceMeters(inc.Latitude, inc.Longitude, n.Latitude, n.Longitude),
		})
	}
	return out, nil
}

// sortCandidates: ближайший по времени, затем по расстоянию, затем по id
func sortCandidates(cs []*candidate) {
	sort.SliceStable(cs, func(i, j int) bool {
		a, b := cs[i], cs[j]
		if a.dt != b.dt {
			return a.dt < b.dt
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.incident.ID.String() < b.incident.ID.String()
	})
}
