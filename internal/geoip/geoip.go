// Package geoip resolves endpoint addresses against MaxMind GeoLite2 databases.
package geoip

import (
	"errors"
	"fmt"
	"net"
	"sync"

	"NetSpectraTables/internal/config"
	"NetSpectraTables/internal/model"

	"github.com/oschwald/geoip2-golang"
	"go.uber.org/zap"
)

// ErrNoDatabase is returned when no configured database could be opened.
var ErrNoDatabase = errors.New("no geoip database available")

type cityReader interface {
	City(ip net.IP) (*geoip2.City, error)
	Close() error
}

type asnReader interface {
	ASN(ip net.IP) (*geoip2.ASN, error)
	Close() error
}

// Resolver looks addresses up in a City and an ASN database. Either may be
// missing. Results, including misses, are cached per address.
type Resolver struct {
	city   cityReader
	asn    asnReader
	lang   string
	logger *zap.SugaredLogger

	mu    sync.RWMutex
	cache map[string]*model.GeoLookup
}

// Open opens the databases named in cfg. A database that fails to open is
// logged and skipped; ErrNoDatabase is returned when none could be opened.
func Open(cfg config.GeoIPConfig, logger *zap.SugaredLogger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	r := newResolver(nil, nil, logger)

	if cfg.CityDB != "" {
		db, err := geoip2.Open(cfg.CityDB)
		if err != nil {
			logger.Warnw("failed to open city database", "path", cfg.CityDB, "error", err)
		} else {
			r.city = db
		}
	}
	if cfg.ASNDB != "" {
		db, err := geoip2.Open(cfg.ASNDB)
		if err != nil {
			logger.Warnw("failed to open ASN database", "path", cfg.ASNDB, "error", err)
		} else {
			r.asn = db
		}
	}
	if r.city == nil && r.asn == nil {
		return nil, fmt.Errorf("%w: tried city=%q asn=%q", ErrNoDatabase, cfg.CityDB, cfg.ASNDB)
	}
	logger.Infow("geoip databases loaded", "city", r.city != nil, "asn", r.asn != nil)
	return r, nil
}

func newResolver(city cityReader, asn asnReader, logger *zap.SugaredLogger) *Resolver {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Resolver{
		city:   city,
		asn:    asn,
		lang:   "en",
		logger: logger,
		cache:  make(map[string]*model.GeoLookup),
	}
}

// Lookup returns the geolocation of addr, or a lookup with Found unset when
// the databases know nothing about it. Non-IP addresses return nil.
func (r *Resolver) Lookup(addr model.Address) *model.GeoLookup {
	ip := addr.IP()
	if ip == nil {
		return nil
	}
	key := string(addr.Data)

	r.mu.RLock()
	g, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return g
	}

	g = r.lookup(ip)
	r.mu.Lock()
	r.cache[key] = g
	r.mu.Unlock()
	return g
}

func (r *Resolver) lookup(ip net.IP) *model.GeoLookup {
	g := &model.GeoLookup{}

	if r.city != nil {
		rec, err := r.city.City(ip)
		if err != nil {
			r.logger.Debugw("city lookup failed", "ip", ip.String(), "error", err)
		} else if rec != nil {
			g.Country = rec.Country.Names[r.lang]
			g.City = rec.City.Names[r.lang]
			// The databases carry no explicit flag for a missing location.
			if rec.Location.Latitude != 0 || rec.Location.Longitude != 0 {
				g.HasLocation = true
				g.Latitude = rec.Location.Latitude
				g.Longitude = rec.Location.Longitude
				g.AccuracyRadius = rec.Location.AccuracyRadius
			}
		}
	}

	if r.asn != nil {
		rec, err := r.asn.ASN(ip)
		if err != nil {
			r.logger.Debugw("ASN lookup failed", "ip", ip.String(), "error", err)
		} else if rec != nil {
			g.ASNumber = uint32(rec.AutonomousSystemNumber)
			g.ASOrganization = rec.AutonomousSystemOrganization
		}
	}

	g.Found = g.HasLocation || g.Country != "" || g.City != "" || g.ASNumber != 0 || g.ASOrganization != ""
	return g
}

// Close closes the databases.
func (r *Resolver) Close() error {
	var errs []error
	if r.city != nil {
		errs = append(errs, r.city.Close())
	}
	if r.asn != nil {
		errs = append(errs, r.asn.Close())
	}
	return errors.Join(errs...)
}
