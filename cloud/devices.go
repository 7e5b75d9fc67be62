package cloud

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

const (
	chinaCountry   = "cn"
	homesLimit     = 100
	devicesLimit   = 200
	getHomesPath   = "/v2/homeroom/gethome"
	homeDevicePath = "/v2/home/home_device_list"
)

// APIBaseURL returns the regional API base for a country code.
func APIBaseURL(country string) string {
	if country == chinaCountry {
		return "https://api.io.mi.com/app"
	}
	return "https://" + country + ".api.io.mi.com/app"
}

// ListHomes returns the homes of the logged-in account. An absent or malformed home
// list yields an empty result.
func (e *Engine) ListHomes(ctx context.Context, country string) ([]Home, error) {
	data, err := json.Marshal(struct {
		FG    bool `json:"fg"`
		Limit int  `json:"limit"`
	}{FG: true, Limit: homesLimit})
	if err != nil {
		return nil, errors.Wrap(err, "[ListHomes] marshal")
	}

	raw, err := e.ExecuteEncrypted(ctx, APIBaseURL(country)+getHomesPath, Params{{Key: "data", Value: string(data)}})
	if err != nil {
		return nil, errors.Wrap(err, "[ListHomes]")
	}

	var resp struct {
		Result *struct {
			HomeList []Home `json:"homelist"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Result == nil {
		e.logger.Warn().Err(err).Msg("home list missing from response")
		return []Home{}, nil
	}
	if resp.Result.HomeList == nil {
		return []Home{}, nil
	}
	return resp.Result.HomeList, nil
}

// ListDevices returns the devices of the account's first home. No homes, or a
// malformed device list, yields an empty result rather than an error.
func (e *Engine) ListDevices(ctx context.Context, country string) ([]Device, error) {
	homes, err := e.ListHomes(ctx, country)
	if err != nil {
		return nil, err
	}
	if len(homes) == 0 {
		e.logger.Info().Str("country", country).Msg("account has no homes")
		return []Device{}, nil
	}
	// TODO: let the caller choose a home once accounts with several homes need it.
	home := homes[0]

	data, err := json.Marshal(struct {
		HomeOwner      ID   `json:"home_owner"`
		HomeID         ID   `json:"home_id"`
		Limit          int  `json:"limit"`
		GetSplitDevice bool `json:"get_split_device"`
	}{
		HomeOwner:      e.session.userID,
		HomeID:         home.ID,
		Limit:          devicesLimit,
		GetSplitDevice: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[ListDevices] marshal")
	}

	raw, err := e.ExecuteEncrypted(ctx, APIBaseURL(country)+homeDevicePath, Params{{Key: "data", Value: string(data)}})
	if err != nil {
		return nil, errors.Wrap(err, "[ListDevices]")
	}

	var resp struct {
		Result *struct {
			DeviceInfo []json.RawMessage `json:"device_info"`
		} `json:"result"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil || resp.Result == nil {
		e.logger.Warn().Err(err).Msg("device list missing from response")
		return []Device{}, nil
	}

	devices := make([]Device, 0, len(resp.Result.DeviceInfo))
	for i, item := range resp.Result.DeviceInfo {
		var d Device
		if err := json.Unmarshal(item, &d); err != nil {
			e.logger.Warn().Err(err).Int("index", i).Msg("skipping malformed device entry")
			continue
		}
		devices = append(devices, d)
	}
	e.logger.Info().Str("home", home.ID.String()).Int("devices", len(devices)).Msg("device list fetched")
	return devices, nil
}
