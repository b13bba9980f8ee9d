// Package platform is a thin authenticated HTTP client to YouTube
// (subscription list, playlist create, playlist-item insert, channel-feed
// search, token refresh).
//
// Every call here returns a corerr-classified error in one of
// {Transient, Unauthorized, QuotaExceeded, NotFound, Malformed}, built on
// the generated YouTube Data API v3 client rather than a hand-rolled REST
// caller.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"

	"autowatch/internal/corerr"
)

// ChannelSubscription is one row of list_user_subscriptions's paged result.
type ChannelSubscription struct {
	ChannelID string
	Title     string
	Thumbnail string
}

// RecentVideo is one row of search_channel_recent's result.
type RecentVideo struct {
	VideoID     string
	Title       string
	PublishedAt time.Time
}

// TokenResult is what refresh_access_token returns.
type TokenResult struct {
	AccessToken  string
	ExpiresIn    time.Duration
	RefreshToken string // empty if not rotated
}

// Client is the interface consumed by every other component, so tests can
// substitute a mock platform without touching real OAuth/YouTube.
type Client interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResult, error)
	ListUserSubscriptions(ctx context.Context, accessToken string) ([]ChannelSubscription, error)
	CreatePlaylist(ctx context.Context, accessToken, name, description string) (string, error)
	InsertPlaylistItem(ctx context.Context, accessToken, playlistID, videoID string) error
	SearchChannelRecent(ctx context.Context, accessToken, channelID string, since time.Time) ([]RecentVideo, error)
}

// YouTubeClient is the production Client backed by the generated YouTube
// Data API v3 client library.
type YouTubeClient struct {
	oauthConfig *oauth2.Config
	httpClient  *http.Client
}

func NewYouTubeClient(clientID, clientSecret string) *YouTubeClient {
	return &YouTubeClient{
		oauthConfig: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Scopes:       []string{youtube.YoutubeScope, youtube.YoutubeForceSslScope},
			Endpoint:     google.Endpoint,
		},
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *YouTubeClient) service(ctx context.Context, accessToken string) (*youtube.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	svc, err := youtube.NewService(ctx, option.WithTokenSource(src), option.WithHTTPClient(c.httpClient))
	if err != nil {
		return nil, corerr.AsMalformed(fmt.Errorf("constructing youtube service: %w", err))
	}
	return svc, nil
}

// classifyGoogleAPIError maps a googleapi.Error's HTTP status to the
// corerr taxonomy.
func classifyGoogleAPIError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch {
		case gerr.Code == http.StatusUnauthorized:
			return corerr.AsUnauthorized(err)
		case gerr.Code == http.StatusTooManyRequests || gerr.Code == http.StatusForbidden && isQuotaError(gerr):
			return corerr.AsQuotaExceeded(err)
		case gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone:
			return corerr.AsNotFound(err)
		case gerr.Code >= 500 || gerr.Code == 0:
			return corerr.AsTransient(err)
		}
	}
	return corerr.AsTransient(err)
}

func isQuotaError(gerr *googleapi.Error) bool {
	for _, e := range gerr.Errors {
		if e.Reason == "quotaExceeded" || e.Reason == "dailyLimitExceeded" || e.Reason == "rateLimitExceeded" {
			return true
		}
	}
	return false
}

// RefreshAccessToken forces a refresh using the provided refresh token,
// reusing golang.org/x/oauth2's Endpoint machinery for the token POST
// instead of hand-building the request.
func (c *YouTubeClient) RefreshAccessToken(ctx context.Context, refreshToken string) (*TokenResult, error) {
	src := c.oauthConfig.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		var rErr *oauth2.RetrieveError
		if errors.As(err, &rErr) && rErr.Response != nil && rErr.Response.StatusCode == http.StatusUnauthorized {
			return nil, corerr.AsUnauthorized(err)
		}
		return nil, corerr.AsTransient(fmt.Errorf("refreshing access token: %w", err))
	}
	result := &TokenResult{
		AccessToken: tok.AccessToken,
		ExpiresIn:   time.Until(tok.Expiry),
	}
	if tok.RefreshToken != "" && tok.RefreshToken != refreshToken {
		result.RefreshToken = tok.RefreshToken
	}
	return result, nil
}

// ListUserSubscriptions lists every channel the user subscribes to,
// draining pages internally so callers see one flat slice; nothing
// downstream needs partial pages.
func (c *YouTubeClient) ListUserSubscriptions(ctx context.Context, accessToken string) ([]ChannelSubscription, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	var out []ChannelSubscription
	call := svc.Subscriptions.List([]string{"snippet"}).Mine(true).MaxResults(50)
	err = call.Pages(ctx, func(resp *youtube.SubscriptionListResponse) error {
		for _, item := range resp.Items {
			sub := ChannelSubscription{ChannelID: item.Snippet.ResourceId.ChannelId, Title: item.Snippet.Title}
			if item.Snippet.Thumbnails != nil && item.Snippet.Thumbnails.Default != nil {
				sub.Thumbnail = item.Snippet.Thumbnails.Default.Url
			}
			out = append(out, sub)
		}
		return nil
	})
	if err != nil {
		return nil, classifyGoogleAPIError(err)
	}
	return out, nil
}

// CreatePlaylist creates the managed, private playlist for a user on bootstrap.
func (c *YouTubeClient) CreatePlaylist(ctx context.Context, accessToken, name, description string) (string, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return "", err
	}
	playlist := &youtube.Playlist{
		Snippet: &youtube.PlaylistSnippet{Title: name, Description: description},
		Status:  &youtube.PlaylistStatus{PrivacyStatus: "private"},
	}
	call := svc.Playlists.Insert([]string{"snippet", "status"}, playlist)
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return "", classifyGoogleAPIError(err)
	}
	return resp.Id, nil
}

// InsertPlaylistItem appends a video to the user's managed playlist. The
// per-call exponential-backoff retry for Transient errors lives in the
// fanout package, which is the caller that owns attempt bookkeeping; this
// method makes exactly one attempt.
func (c *YouTubeClient) InsertPlaylistItem(ctx context.Context, accessToken, playlistID, videoID string) error {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return err
	}
	item := &youtube.PlaylistItem{
		Snippet: &youtube.PlaylistItemSnippet{
			PlaylistId: playlistID,
			ResourceId: &youtube.ResourceId{Kind: "youtube#video", VideoId: videoID},
		},
	}
	_, err = svc.PlaylistItems.Insert([]string{"snippet"}, item).Context(ctx).Do()
	if err != nil {
		return classifyGoogleAPIError(err)
	}
	return nil
}

// SearchChannelRecent implements the fallback poller's discovery call:
// recent uploads on a channel since a cutoff, ordered oldest-first by the
// caller (the Search API itself returns newest-first; poller.go re-sorts).
func (c *YouTubeClient) SearchChannelRecent(ctx context.Context, accessToken, channelID string, since time.Time) ([]RecentVideo, error) {
	svc, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	call := svc.Search.List([]string{"snippet"}).
		ChannelId(channelID).
		Type("video").
		Order("date").
		PublishedAfter(since.UTC().Format(time.RFC3339)).
		MaxResults(10)
	resp, err := call.Context(ctx).Do()
	if err != nil {
		return nil, classifyGoogleAPIError(err)
	}

	out := make([]RecentVideo, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Snippet == nil {
			continue
		}
		publishedAt, perr := time.Parse(time.RFC3339, item.Snippet.PublishedAt)
		if perr != nil {
			continue
		}
		out = append(out, RecentVideo{
			VideoID:     item.Id.VideoId,
			Title:       item.Snippet.Title,
			PublishedAt: publishedAt,
		})
	}
	return out, nil
}
