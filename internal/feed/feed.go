// Package feed parses the Atom XML notifications a WebSub hub delivers for
// a YouTube channel: one <feed> with a yt:-namespaced <entry>. It also
// offers ValidChannelID as a channel-id shape check; Parse does not apply it.
package feed

import (
	"encoding/xml"
	"regexp"

	"autowatch/internal/corerr"
)

// AtomFeed is the root element of a WebSub notification body.
type AtomFeed struct {
	XMLName xml.Name `xml:"feed"`
	Entry   *Entry   `xml:"entry"`
}

// Entry is a single video entry, using the platform-specific yt: namespace
// for videoId/channelId alongside the plain Atom title/published/updated.
type Entry struct {
	VideoID   string `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
	Title     string `xml:"title"`
	Published string `xml:"published"`
	Updated   string `xml:"updated"`
}

var channelIDRegex = regexp.MustCompile(`^UC[a-zA-Z0-9_-]{22}$`)

// ValidChannelID reports whether id has the shape of a YouTube channel id.
func ValidChannelID(id string) bool {
	return channelIDRegex.MatchString(id)
}

// Parse decodes a notification body into its single Entry. An empty or
// unparseable body, or a body missing either id, is a Malformed error —
// callers must reply with a non-2xx status so the hub retries.
func Parse(body []byte) (*Entry, error) {
	if len(body) == 0 {
		return nil, corerr.AsMalformed(errEmptyBody)
	}
	var feed AtomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, corerr.AsMalformed(err)
	}
	if feed.Entry == nil {
		return nil, corerr.AsMalformed(errNoEntry)
	}
	if feed.Entry.VideoID == "" {
		return nil, corerr.AsMalformed(errMissingVideoID)
	}
	if feed.Entry.ChannelID == "" {
		return nil, corerr.AsMalformed(errMissingChannelID)
	}
	return feed.Entry, nil
}
