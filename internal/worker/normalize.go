package worker

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/zulandar/quotescout/internal/config"
	"github.com/zulandar/quotescout/internal/models"
)

// Defaults applied by Normalize when a listing field is missing or unusable.
const (
	DefaultRating       = 4.5
	DefaultPricing      = "Contact for pricing"
	DefaultAvailability = "Contact for availability"
	// placeholderImages is the size of the avatar pool used for listings
	// without a photo.
	placeholderImages = 70
)

var numberPattern = regexp.MustCompile(`[-+]?\d+(?:\.\d+)?`)

// PlaceholderImage returns the deterministic avatar for a listing position.
func PlaceholderImage(ordinal int) string {
	if ordinal < 0 {
		ordinal = -ordinal
	}
	return fmt.Sprintf("https://i.pravatar.cc/150?img=%d", ordinal%placeholderImages+1)
}

// NormalizeAll converts raw listings into contractors, numbering them in
// order. All records share the same timestamp component in their IDs.
func NormalizeAll(p config.PlatformConfig, raw []map[string]any, now time.Time) []models.Contractor {
	out := make([]models.Contractor, 0, len(raw))
	for i, r := range raw {
		out = append(out, Normalize(p, i, r, now))
	}
	return out
}

// Normalize coerces one raw listing into a Contractor. Every field has a
// fixed default so partial or malformed agent output still yields a usable
// record:
//
//	name             "<Platform> Pro #<ordinal+1>"
//	rating           4.5, clamped to [0, 5]
//	reviewCount      0, never negative
//	description      ""
//	profileUrl       platform base URL
//	imageUrl         PlaceholderImage(ordinal)
//	pricing          "Contact for pricing" with NeedsFollowUp set
//	specialties      empty; non-string entries dropped
//	yearsExperience  nil; non-positive values dropped
//	topRated         false
//	reviews          empty; entries without text dropped
//	availability     "Contact for availability"
//	phone/email/web  omitted
//	platform         the worker's platform name
func Normalize(p config.PlatformConfig, ordinal int, raw map[string]any, now time.Time) models.Contractor {
	c := models.Contractor{
		ID:              fmt.Sprintf("%s-%d-%d", p.Name, ordinal, now.UnixMilli()),
		Name:            firstString(raw, "name", "businessName", "title"),
		Rating:          DefaultRating,
		Description:     firstString(raw, "description", "summary", "about"),
		ProfileURL:      firstString(raw, "profileUrl", "profile_url", "url", "link"),
		ImageURL:        firstString(raw, "imageUrl", "image_url", "image", "photo"),
		Specialties:     stringList(raw["specialties"]),
		TopRated:        boolValue(raw["topRated"]),
		PositiveReviews: reviewList(raw["positiveReviews"]),
		NegativeReviews: reviewList(raw["negativeReviews"]),
		Availability:    firstString(raw, "availability"),
		Phone:           firstString(raw, "phone"),
		Email:           firstString(raw, "email"),
		Website:         firstString(raw, "website"),
		Platform:        p.Name,
	}

	if c.Name == "" {
		c.Name = fmt.Sprintf("%s Pro #%d", displayName(p.Name), ordinal+1)
	}
	if r, ok := number(raw["rating"]); ok {
		c.Rating = math.Max(0, math.Min(5, r))
	}
	for _, key := range []string{"reviewCount", "review_count", "reviews"} {
		if n, ok := number(raw[key]); ok {
			c.ReviewCount = max(0, int(n))
			break
		}
	}
	if c.ProfileURL == "" {
		c.ProfileURL = p.BaseURL
	}
	if c.ImageURL == "" {
		c.ImageURL = PlaceholderImage(ordinal)
	}

	c.Pricing = firstString(raw, "pricing", "price", "priceRange")
	if c.Pricing == "" {
		if n, ok := raw["price"].(float64); ok && n > 0 {
			c.Pricing = "$" + strconv.FormatFloat(n, 'f', -1, 64)
		}
	}
	if c.Pricing == "" || boolValue(raw["needsFollowUp"]) {
		c.NeedsFollowUp = true
	}
	if c.Pricing == "" {
		c.Pricing = DefaultPricing
	}

	if y, ok := number(raw["yearsExperience"]); ok && y > 0 {
		years := int(y)
		c.YearsExperience = &years
	}
	if c.Availability == "" {
		c.Availability = DefaultAvailability
	}
	return c
}

func displayName(platform string) string {
	if platform == "" {
		return "Local"
	}
	return strings.ToUpper(platform[:1]) + platform[1:]
}

// firstString returns the first non-empty trimmed string among keys.
func firstString(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := raw[k].(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	return ""
}

// number reads a JSON number or the first number in a string such as
// "4.8 stars" or "(1,234 reviews)".
func number(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		m := numberPattern.FindString(strings.ReplaceAll(x, ",", ""))
		if m == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(m, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func boolValue(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(x))
		return b
	}
	return false
}

func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, it := range items {
		if s, ok := it.(string); ok {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func reviewList(v any) []models.Review {
	out := []models.Review{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, it := range items {
		switch x := it.(type) {
		case string:
			if s := strings.TrimSpace(x); s != "" {
				out = append(out, models.Review{Text: s})
			}
		case map[string]any:
			r := models.Review{
				Text:   firstString(x, "text", "review", "content"),
				Author: firstString(x, "author", "name"),
				Date:   firstString(x, "date"),
			}
			if r.Text == "" {
				continue
			}
			if n, ok := number(x["rating"]); ok {
				n = math.Max(0, math.Min(5, n))
				r.Rating = &n
			}
			out = append(out, r)
		}
	}
	return out
}
