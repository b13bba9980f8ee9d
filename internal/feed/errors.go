package feed

import "errors"

var (
	errEmptyBody        = errors.New("feed: empty notification body")
	errNoEntry          = errors.New("feed: no entry in notification body")
	errMissingVideoID   = errors.New("feed: entry missing videoId")
	errMissingChannelID = errors.New("feed: entry missing channelId")
)
