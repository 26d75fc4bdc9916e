package rpc

import (
	"context"

	"github.com/embercore/launcher-core/src/auth"
	"github.com/embercore/launcher-core/src/launchererr"
)

// AccountView is one entry of get_accounts' accounts map.
type AccountView struct {
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
	SkinURL string `json:"skin_url"`
}

// AccountsView is get_accounts' full response shape.
type AccountsView struct {
	ActiveAccount string                 `json:"active_account"`
	Accounts      map[string]AccountView `json:"accounts"`
}

// GetAccounts returns every known account plus which one is active,
// per get_accounts.
func (s *Service) GetAccounts() AccountsView {
	active, _ := s.accounts.Active()

	view := AccountsView{
		ActiveAccount: active.UUID,
		Accounts:      make(map[string]AccountView),
	}
	for _, a := range s.accounts.All() {
		view.Accounts[a.UUID] = AccountView{UUID: a.UUID, Name: a.Username, SkinURL: a.SkinURL}
	}
	return view
}

// DeviceFlowView is start_authentication_flow's response shape.
type DeviceFlowView struct {
	Message    string `json:"message"`
	DeviceCode string `json:"device_code"`
}

// StartAuthenticationFlow requests a Microsoft device code and holds
// onto it keyed by its device_code, so a later poll call can find it
// again by that same value.
func (s *Service) StartAuthenticationFlow(ctx context.Context) (*DeviceFlowView, error) {
	dc, err := s.authEngine.StartDeviceFlow(ctx)
	if err != nil {
		return nil, err
	}

	s.pendingMu.Lock()
	s.pending[dc.DeviceCode] = dc
	s.pendingMu.Unlock()

	return &DeviceFlowView{
		Message:    "Go to " + dc.VerificationURI + " and enter code " + dc.UserCode,
		DeviceCode: dc.DeviceCode,
	}, nil
}

// PollDeviceCodeAuthentication advances one in-flight device-code flow
// by a single poll. done reports whether the flow has concluded
// (successfully or not); the caller should keep calling this at its own
// cadence while done is false. On success the new account becomes
// active and its refresh token is persisted to the secret store.
func (s *Service) PollDeviceCodeAuthentication(ctx context.Context, deviceCode string) (done bool, err error) {
	s.pendingMu.Lock()
	dc, ok := s.pending[deviceCode]
	s.pendingMu.Unlock()
	if !ok {
		return true, launchererr.New(launchererr.NotFound, "no such device code flow: "+deviceCode)
	}

	account, refreshToken, pending, err := s.authEngine.FinishDeviceCodePoll(ctx, dc)
	if err != nil {
		s.pendingMu.Lock()
		delete(s.pending, deviceCode)
		s.pendingMu.Unlock()
		return true, err
	}
	if pending {
		return false, nil
	}

	s.pendingMu.Lock()
	delete(s.pending, deviceCode)
	s.pendingMu.Unlock()

	if err := s.accounts.Upsert(*account); err != nil {
		return true, err
	}
	if err := s.accounts.SetActive(account.UUID); err != nil {
		return true, err
	}
	if err := auth.StoreRefreshToken(account, refreshToken); err != nil {
		return true, err
	}
	return true, nil
}

// LoginToAccount switches the active account to an already-authenticated
// uuid, per login_to_account.
func (s *Service) LoginToAccount(uuid string) error {
	return s.accounts.SetActive(uuid)
}

// GetAccountSkin returns the active account's skin texture URL, per
// get_account_skin.
func (s *Service) GetAccountSkin() (string, error) {
	active, ok := s.accounts.Active()
	if !ok {
		return "", launchererr.New(launchererr.Auth, "no active account")
	}
	return active.SkinURL, nil
}
