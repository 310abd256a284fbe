package pipeline

import (
	"context"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/shahamT/valley-luz/internal/model"
	"github.com/shahamT/valley-luz/internal/transport"
)

// AliasResolver maps alias-form sender identifiers to phone numbers.
type AliasResolver interface {
	ResolveAlias(ctx context.Context, alias string) (string, error)
	LookupContact(ctx context.Context, alias string) (string, error)
}

// PublisherPhone resolves the sender's phone number. Phone-form ids are used
// directly; alias ids go through the resolver with the contact directory as
// fallback. Anything unresolvable yields "".
func PublisherPhone(ctx context.Context, r AliasResolver, sender string) string {
	sender = strings.TrimSpace(sender)
	switch {
	case sender == "":
		return ""
	case transport.IsPhone(sender):
		return transport.PhoneNumber(sender)
	case !transport.IsAlias(sender):
		return ""
	case r == nil:
		return ""
	}

	phone, err := r.ResolveAlias(ctx, sender)
	if err == nil && phone != "" {
		return phone
	}
	zap.L().Debug("enrich: alias lookup failed, trying contact", zap.String("sender", sender), zap.Error(err))

	phone, err = r.LookupContact(ctx, sender)
	if err != nil {
		zap.L().Info("enrich: publisher phone unresolved", zap.String("sender", sender), zap.Error(err))
		return ""
	}
	return phone
}

// NavLinks builds Waze and Google Maps search links for a validated
// location. Both are empty when the location names no place.
func NavLinks(loc model.Location) (waze, gmaps string) {
	var parts []string
	for _, p := range []string{loc.AddressLine1, loc.City} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 0 {
		return "", ""
	}
	q := url.QueryEscape(strings.Join(parts, ", "))
	return "https://waze.com/ul?q=" + q + "&navigate=yes",
		"https://www.google.com/maps/search/?api=1&query=" + q
}

// Enrich attaches the publisher phone, navigation links and the uploaded
// media to a validated event. It never invents media.
func Enrich(ctx context.Context, ev *model.Event, r AliasResolver, sender string, media *model.MediaRef) {
	ev.PublisherPhone = PublisherPhone(ctx, r, sender)
	ev.Location.WazeNavLink, ev.Location.GmapsNavLink = NavLinks(ev.Location)
	ev.Media = []model.MediaRef{}
	if media != nil && media.URL != "" {
		ev.Media = append(ev.Media, *media)
	}
}
