// File: internal/rewards/rewards.go
package rewards

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/rewards-cli/internal/network"
	"github.com/xkilldash9x/rewards-cli/internal/search"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotSignedIn is returned when the session cookies do not belong to a
// signed-in rewards member.
var ErrNotSignedIn = errors.New("browser profile is not signed in to rewards")

// Getter is the subset of network.Client the portal client needs.
type Getter interface {
	Get(ctx context.Context, url string, opts ...network.RequestOption) ([]byte, int, error)
}

// CookieSource exports the cookies of the signed-in browser profile.
type CookieSource interface {
	Cookies(ctx context.Context) ([]*http.Cookie, error)
}

// Progress is a points counter as reported by the portal.
type Progress struct {
	Points int `json:"pointProgress"`
	Max    int `json:"pointProgressMax"`
}

// Remaining is the number of points still to earn.
func (p Progress) Remaining() int { return max(p.Max-p.Points, 0) }

// UserInfo is the part of the user-info payload the tool uses.
type UserInfo struct {
	Balance       int
	IsRewardsUser bool
	Desktop       Progress
	Mobile        Progress
}

type userInfoPayload struct {
	UserInfo struct {
		Balance       int  `json:"balance"`
		IsRewardsUser bool `json:"isRewardsUser"`
	} `json:"userInfo"`
	FlyoutResult struct {
		UserStatus struct {
			Counters struct {
				PCSearch     []Progress `json:"PCSearch"`
				MobileSearch []Progress `json:"MobileSearch"`
			} `json:"counters"`
		} `json:"userStatus"`
	} `json:"flyoutResult"`
}

func parseUserInfo(body []byte) (UserInfo, error) {
	var p userInfoPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return UserInfo{}, fmt.Errorf("decode user info: %w", err)
	}
	info := UserInfo{
		Balance:       p.UserInfo.Balance,
		IsRewardsUser: p.UserInfo.IsRewardsUser,
	}
	if c := p.FlyoutResult.UserStatus.Counters.PCSearch; len(c) > 0 {
		info.Desktop = c[0]
	}
	if c := p.FlyoutResult.UserStatus.Counters.MobileSearch; len(c) > 0 {
		info.Mobile = c[0]
	}
	return info, nil
}

// PointsPerSearch derives how many points one search earns from the
// desktop counter's daily maximum.
func PointsPerSearch(desktopMax int) int {
	switch {
	case desktopMax == 30 || desktopMax == 90 || desktopMax == 102:
		return 3
	case desktopMax == 50 || desktopMax == 150 || desktopMax >= 170:
		return 5
	default:
		return 1
	}
}

// RemainingSearches converts the point counters into search counts. Partial
// searches round up so a leftover point is never abandoned.
func RemainingSearches(info UserInfo) search.Counters {
	per := PointsPerSearch(info.Desktop.Max)
	ceil := func(points int) int { return (points + per - 1) / per }
	return search.Counters{
		Desktop: ceil(info.Desktop.Remaining()),
		Mobile:  ceil(info.Mobile.Remaining()),
	}
}

// Client reads the user-info endpoint with the browser's cookies. It serves
// as the engine's balance Oracle.
type Client struct {
	getter  Getter
	cookies CookieSource
	url     string
	logger  *zap.Logger
}

// NewClient creates a portal client.
func NewClient(getter Getter, cookies CookieSource, url string, logger *zap.Logger) *Client {
	return &Client{getter: getter, cookies: cookies, url: url, logger: logger.Named("rewards")}
}

// UserInfo fetches and decodes the user-info payload.
func (c *Client) UserInfo(ctx context.Context) (UserInfo, error) {
	cookies, err := c.cookies.Cookies(ctx)
	if err != nil {
		return UserInfo{}, fmt.Errorf("read browser cookies: %w", err)
	}
	body, status, err := c.getter.Get(ctx, c.url, network.WithCookies(cookies))
	if err != nil {
		return UserInfo{}, fmt.Errorf("fetch user info: %w", err)
	}
	if status != http.StatusOK {
		return UserInfo{}, fmt.Errorf("fetch user info: unexpected status %d", status)
	}
	info, err := parseUserInfo(body)
	if err != nil {
		return UserInfo{}, err
	}
	if !info.IsRewardsUser {
		return UserInfo{}, ErrNotSignedIn
	}
	return info, nil
}

// CurrentBalance reports the point balance.
func (c *Client) CurrentBalance(ctx context.Context) (int, error) {
	info, err := c.UserInfo(ctx)
	if err != nil {
		return 0, err
	}
	return info.Balance, nil
}

// RemainingSearches reports how many searches are still needed per device.
func (c *Client) RemainingSearches(ctx context.Context) (search.Counters, error) {
	info, err := c.UserInfo(ctx)
	if err != nil {
		return search.Counters{}, err
	}
	counters := RemainingSearches(info)
	c.logger.Debug("Search counters",
		zap.Int("desktop_points", info.Desktop.Points),
		zap.Int("desktop_max", info.Desktop.Max),
		zap.Int("mobile_points", info.Mobile.Points),
		zap.Int("mobile_max", info.Mobile.Max),
		zap.Int("desktop_searches", counters.Desktop),
		zap.Int("mobile_searches", counters.Mobile))
	return counters, nil
}
