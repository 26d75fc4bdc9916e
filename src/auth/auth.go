// Package auth implements the Microsoft device-code → Xbox Live → XSTS
// → Minecraft authentication chain of §4.6, refresh-token persistence
// via the OS credential store, and the multi-account catalog. The
// teacher has no authentication of any kind (its VersionJSON flow
// assumed an already-valid offline username); this is grounded instead
// on the two pack examples built specifically for this chain.
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/embercore/launcher-core/src/httpclient"
	"github.com/embercore/launcher-core/src/launchererr"
	"github.com/embercore/launcher-core/src/secretstore"
)

const (
	msaDeviceCodeURL = "https://login.microsoftonline.com/consumers/oauth2/v2.0/devicecode"
	msaTokenURL      = "https://login.microsoftonline.com/consumers/oauth2/v2.0/token"
	xboxUserAuthURL  = "https://user.auth.xboxlive.com/user/authenticate"
	xstsAuthURL      = "https://xsts.auth.xboxlive.com/xsts/authorize"
	mcLoginURL       = "https://api.minecraftservices.com/authentication/login_with_xbox"
	mcEntitlementURL = "https://api.minecraftservices.com/entitlements/mcstore"
	mcProfileURL     = "https://api.minecraftservices.com/minecraft/profile"

	// defaultSkinURL is the classic Steve texture Mojang serves a
	// profile with no active skin.
	defaultSkinURL = "http://textures.minecraft.net/texture/31f477eb1a7beee631c2ca64d06f8f68fa93a3386d04452ab27f43acdf9a361"

	minecraftRelyingParty = "rp://api.minecraftservices.com/"
	xboxliveRelyingParty  = "http://auth.xboxlive.com"

	xerrNoXboxAccount = 2148916233
	xerrRegionBanned   = 2148916235
	xerrChildAccount   = 2148916238

	// refreshLeadTime is how far ahead of expiry a launch forces a
	// refresh, per §4.6 "Refresh".
	refreshLeadTime = 5 * time.Minute
)

// DeviceCodeResponse is returned to the UI by start_authentication_flow.
type DeviceCodeResponse struct {
	UserCode        string
	VerificationURI string
	DeviceCode      string
	IntervalSeconds int
	ExpiresIn       int
	expiry          time.Time
}

// Account is the in-memory/persisted shape of one authenticated player.
type Account struct {
	UUID                       string    `json:"uuid"`
	Username                   string    `json:"username"`
	SkinURL                    string    `json:"skin_url"`
	MinecraftAccessToken       string    `json:"-"` // never persisted to accounts.json
	MinecraftAccessTokenExpiry time.Time `json:"-"`
}

// Engine drives the authentication chain for one client application.
// The endpoint fields default to the real Microsoft/Xbox/Minecraft
// services in New and are only ever overridden by tests, to point the
// chain at httptest fakes.
type Engine struct {
	http     *http.Client
	clientID string
	log      *zap.SugaredLogger

	deviceCodeURL    string
	tokenURL         string
	xboxUserAuthURL  string
	xstsAuthURL      string
	mcLoginURL       string
	mcEntitlementURL string
	mcProfileURL     string
}

// New builds an Engine. clientID is the Azure AD application ID
// registered for device-code flow.
func New(http *httpclient.Client, clientID string, log *zap.SugaredLogger) *Engine {
	return &Engine{
		http:     http.Raw(),
		clientID: clientID,
		log:      log,

		deviceCodeURL:    msaDeviceCodeURL,
		tokenURL:         msaTokenURL,
		xboxUserAuthURL:  xboxUserAuthURL,
		xstsAuthURL:      xstsAuthURL,
		mcLoginURL:       mcLoginURL,
		mcEntitlementURL: mcEntitlementURL,
		mcProfileURL:     mcProfileURL,
	}
}

// oauthConfig builds the oauth2.Config describing the MSA device-auth
// endpoints; used only to obtain the device code (step 1) — the token
// poll itself is hand-rolled below so slow_down/authorization_pending/
// expiry can be classified into the typed errors §4.6 requires.
func (e *Engine) oauthConfig() *oauth2.Config {
	return &oauth2.Config{
		ClientID: e.clientID,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: e.deviceCodeURL,
			TokenURL:      e.tokenURL,
		},
		Scopes: []string{"XboxLive.signin", "offline_access"},
	}
}

// StartDeviceFlow requests a device code from Microsoft identity,
// returning immediately (§4.6 step 1).
func (e *Engine) StartDeviceFlow(ctx context.Context) (*DeviceCodeResponse, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.http)
	da, err := e.oauthConfig().DeviceAuth(ctx)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "request device code", err)
	}
	return &DeviceCodeResponse{
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		DeviceCode:      da.DeviceCode,
		IntervalSeconds: int(da.Interval),
		ExpiresIn:       int(time.Until(da.Expiry).Seconds()),
		expiry:          da.Expiry,
	}, nil
}

type msaTokenResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	Error        string `json:"error"`
}

// PollOnce performs a single token-endpoint poll, per §4.6 step 2. The
// caller (the rpc layer's poll_device_code_authentication handler)
// drives the polling cadence; (pending == true, err == nil) means "ask
// again after interval".
func (e *Engine) PollOnce(ctx context.Context, dc *DeviceCodeResponse) (token msaTokenResult, pending bool, err error) {
	if !dc.expiry.IsZero() && time.Now().After(dc.expiry) {
		return msaTokenResult{}, false, launchererr.WrapAuth(launchererr.DeviceCodeExpired, "device code expired", nil)
	}

	form := url.Values{
		"client_id":   {e.clientID},
		"grant_type":  {"urn:ietf:params:oauth:grant-type:device_code"},
		"device_code": {dc.DeviceCode},
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.http.Do(req)
	if err != nil {
		return msaTokenResult{}, true, nil // network blip, caller retries
	}
	defer resp.Body.Close()

	var result msaTokenResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return msaTokenResult{}, true, nil
	}

	switch result.Error {
	case "":
		return result, false, nil
	case "authorization_pending":
		return msaTokenResult{}, true, nil
	case "slow_down":
		dc.IntervalSeconds += 5
		return msaTokenResult{}, true, nil
	case "expired_token":
		return msaTokenResult{}, false, launchererr.WrapAuth(launchererr.DeviceCodeExpired, "device code expired", nil)
	default:
		return msaTokenResult{}, false, launchererr.Wrap(launchererr.Auth, "device code rejected: "+result.Error, nil)
	}
}

// Authenticate drives the full chain to completion: polls until the
// user authorizes (or the code expires), then exchanges the resulting
// MSA tokens through Xbox Live, XSTS, and Minecraft, returning the
// finished Account plus its MSA refresh token (for the caller to hand
// to secretstore.Store).
func (e *Engine) Authenticate(ctx context.Context, dc *DeviceCodeResponse) (*Account, string, error) {
	interval := time.Duration(dc.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}

	var msa msaTokenResult
	for {
		select {
		case <-ctx.Done():
			return nil, "", ctx.Err()
		case <-time.After(interval):
		}

		result, pending, err := e.PollOnce(ctx, dc)
		if err != nil {
			return nil, "", err
		}
		if pending {
			interval = time.Duration(dc.IntervalSeconds) * time.Second
			continue
		}
		msa = result
		break
	}

	account, err := e.finishWithMSAToken(ctx, msa.AccessToken)
	if err != nil {
		return nil, "", err
	}
	return account, msa.RefreshToken, nil
}

// FinishDeviceCodePoll performs a single poll of the token endpoint and,
// if the user has completed the web flow, finishes the Xbox Live/XSTS/
// Minecraft chain. pending is true while the caller should keep polling
// at dc.IntervalSeconds; it is the single-poll-per-call counterpart to
// Authenticate, for callers (the rpc layer) that drive their own
// cadence instead of blocking for the whole flow.
func (e *Engine) FinishDeviceCodePoll(ctx context.Context, dc *DeviceCodeResponse) (account *Account, refreshToken string, pending bool, err error) {
	result, pending, err := e.PollOnce(ctx, dc)
	if err != nil || pending {
		return nil, "", pending, err
	}

	account, err = e.finishWithMSAToken(ctx, result.AccessToken)
	if err != nil {
		return nil, "", false, err
	}
	return account, result.RefreshToken, false, nil
}

// Refresh re-runs steps 3-4 using a stored MSA refresh token, used
// before a launch when the cached Minecraft token is within
// refreshLeadTime of expiry (§4.6 "Refresh").
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*Account, string, error) {
	form := url.Values{
		"client_id":     {e.clientID},
		"grant_type":    {"refresh_token"},
		"refresh_token": {refreshToken},
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, e.tokenURL, bytes.NewBufferString(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, "", launchererr.Wrap(launchererr.Network, "refresh MSA token", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, "", launchererr.WrapAuth(launchererr.RefreshRejected, string(body), nil)
	}

	var result msaTokenResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, "", launchererr.Wrap(launchererr.Schema, "parse refreshed MSA token", err)
	}

	account, err := e.finishWithMSAToken(ctx, result.AccessToken)
	if err != nil {
		return nil, "", err
	}
	return account, result.RefreshToken, nil
}

// NeedsRefresh reports whether account's Minecraft token is within
// refreshLeadTime of expiring (or already expired).
func NeedsRefresh(account *Account) bool {
	return time.Now().Add(refreshLeadTime).After(account.MinecraftAccessTokenExpiry)
}

// finishWithMSAToken runs Xbox Live -> XSTS -> Minecraft login ->
// entitlement check -> profile fetch, given a valid MSA access token.
func (e *Engine) finishWithMSAToken(ctx context.Context, msaAccessToken string) (*Account, error) {
	userToken, err := e.xboxAuth(ctx, e.xboxUserAuthURL, xboxAuthRequest{
		Properties: xboxAuthProperties{
			AuthMethod: "RPS",
			SiteName:   "user.auth.xboxlive.com",
			RpsTicket:  "d=" + msaAccessToken,
		},
		RelyingParty: xboxliveRelyingParty,
		TokenType:    "JWT",
	})
	if err != nil {
		return nil, err
	}

	xsts, err := e.xboxAuth(ctx, e.xstsAuthURL, xboxAuthRequest{
		Properties: xboxAuthProperties{
			SandboxID:  "RETAIL",
			UserTokens: []string{userToken.Token},
		},
		RelyingParty: minecraftRelyingParty,
		TokenType:    "JWT",
	})
	if err != nil {
		return nil, err
	}
	if len(xsts.DisplayClaims.XUI) == 0 {
		return nil, launchererr.Wrap(launchererr.Auth, "XSTS response missing user hash", nil)
	}
	uhs := xsts.DisplayClaims.XUI[0].UHS

	mcToken, expiresIn, err := e.loginWithXbox(ctx, uhs, xsts.Token)
	if err != nil {
		return nil, err
	}

	if err := e.verifyEntitlement(ctx, mcToken); err != nil {
		return nil, err
	}

	profile, err := e.fetchProfile(ctx, mcToken)
	if err != nil {
		return nil, err
	}

	return &Account{
		UUID:                       profile.ID,
		Username:                   profile.Name,
		SkinURL:                    activeSkinURL(profile),
		MinecraftAccessToken:       mcToken,
		MinecraftAccessTokenExpiry: time.Now().Add(time.Duration(expiresIn) * time.Second),
	}, nil
}

type xboxAuthProperties struct {
	AuthMethod string   `json:"AuthMethod,omitempty"`
	SiteName   string   `json:"SiteName,omitempty"`
	RpsTicket  string   `json:"RpsTicket,omitempty"`
	SandboxID  string   `json:"SandboxId,omitempty"`
	UserTokens []string `json:"UserTokens,omitempty"`
}

type xboxAuthRequest struct {
	Properties   xboxAuthProperties `json:"Properties"`
	RelyingParty string             `json:"RelyingParty"`
	TokenType    string             `json:"TokenType"`
}

type xboxAuthResponse struct {
	Token         string `json:"Token"`
	DisplayClaims struct {
		XUI []struct {
			UHS string `json:"uhs"`
		} `json:"xui"`
	} `json:"DisplayClaims"`
}

// xboxErrorResponse is Xbox Live's error shape, carrying the XErr code
// §4.6 step 3 requires classifying.
type xboxErrorResponse struct {
	Identity string `json:"Identity"`
	XErr     int64  `json:"XErr"`
	Message  string `json:"Message"`
	Redirect string `json:"Redirect"`
}

func (e *Engine) xboxAuth(ctx context.Context, url string, body xboxAuthRequest) (*xboxAuthResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "marshal xbox auth request", err)
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-xbl-contract-version", "1")

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "xbox/xsts auth request", err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return nil, launchererr.Wrap(launchererr.Network, "read xbox/xsts response", readErr)
	}

	if resp.StatusCode != http.StatusOK {
		var xerr xboxErrorResponse
		if json.Unmarshal(respBody, &xerr) == nil && xerr.XErr != 0 {
			return nil, classifyXboxError(xerr)
		}
		return nil, launchererr.Wrap(launchererr.Auth, fmt.Sprintf("xbox/xsts auth failed (%d): %s", resp.StatusCode, respBody), nil)
	}

	var result xboxAuthResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse xbox/xsts response", err)
	}
	return &result, nil
}

func classifyXboxError(xerr xboxErrorResponse) error {
	switch xerr.XErr {
	case xerrNoXboxAccount:
		return launchererr.WrapAuth(launchererr.NoXboxAccount, xerr.Message, nil)
	case xerrRegionBanned:
		return launchererr.WrapAuth(launchererr.RegionBanned, xerr.Message, nil)
	case xerrChildAccount:
		return launchererr.WrapAuth(launchererr.ChildAccount, xerr.Message, nil)
	default:
		return launchererr.Wrap(launchererr.Auth, fmt.Sprintf("xbox live error %d: %s", xerr.XErr, xerr.Message), nil)
	}
}

type minecraftLoginRequest struct {
	IdentityToken string `json:"identityToken"`
}

type minecraftLoginResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

func (e *Engine) loginWithXbox(ctx context.Context, uhs, xstsToken string) (string, int, error) {
	raw, _ := json.Marshal(minecraftLoginRequest{IdentityToken: fmt.Sprintf("XBL3.0 x=%s;%s", uhs, xstsToken)})
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, e.mcLoginURL, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := e.http.Do(req)
	if err != nil {
		return "", 0, launchererr.Wrap(launchererr.Network, "minecraft login", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", 0, launchererr.Wrap(launchererr.Auth, fmt.Sprintf("minecraft login failed (%d): %s", resp.StatusCode, body), nil)
	}

	var result minecraftLoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", 0, launchererr.Wrap(launchererr.Schema, "parse minecraft login response", err)
	}
	return result.AccessToken, result.ExpiresIn, nil
}

type entitlementResponse struct {
	Items []struct {
		Name string `json:"name"`
	} `json:"items"`
}

func (e *Engine) verifyEntitlement(ctx context.Context, mcToken string) error {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.mcEntitlementURL, nil)
	req.Header.Set("Authorization", "Bearer "+mcToken)

	resp, err := e.http.Do(req)
	if err != nil {
		return launchererr.Wrap(launchererr.Network, "fetch entitlements", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return launchererr.Wrap(launchererr.Auth, fmt.Sprintf("entitlement check failed (%d)", resp.StatusCode), nil)
	}

	var result entitlementResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return launchererr.Wrap(launchererr.Schema, "parse entitlement response", err)
	}
	for _, item := range result.Items {
		if item.Name == "game_minecraft" {
			return nil
		}
	}
	return launchererr.Wrap(launchererr.Auth, "account does not own Minecraft Java Edition", nil)
}

type minecraftProfile struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Skins []struct {
		ID    string `json:"id"`
		State string `json:"state"`
		URL   string `json:"url"`
	} `json:"skins"`
}

func (e *Engine) fetchProfile(ctx context.Context, mcToken string) (*minecraftProfile, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, e.mcProfileURL, nil)
	req.Header.Set("Authorization", "Bearer "+mcToken)

	resp, err := e.http.Do(req)
	if err != nil {
		return nil, launchererr.Wrap(launchererr.Network, "fetch minecraft profile", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, launchererr.Wrap(launchererr.Auth, fmt.Sprintf("fetch profile failed (%d)", resp.StatusCode), nil)
	}

	var profile minecraftProfile
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return nil, launchererr.Wrap(launchererr.Schema, "parse minecraft profile", err)
	}
	return &profile, nil
}

// activeSkinURL returns the profile's active skin texture URL, or the
// default Steve texture if none is active (§4.6 "Skin URL").
func activeSkinURL(profile *minecraftProfile) string {
	for _, skin := range profile.Skins {
		if skin.State == "ACTIVE" {
			return skin.URL
		}
	}
	return defaultSkinURL
}

// StoreRefreshToken persists an MSA refresh token in the OS credential
// store under the account's uuid, per §4.6 step 5.
func StoreRefreshToken(account *Account, refreshToken string) error {
	return secretstore.Store(account.UUID, refreshToken)
}
