package device

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/nerrad567/devmgr/internal/notify"
)

// GeneratedKey is a freshly generated pre-shared key. The plaintext is only
// ever returned here.
type GeneratedKey struct {
	Attribute string `json:"attribute"`
	PSK       string `json:"psk"`
}

// GenPSK generates new keys for the psk attributes of a device.
//
// Each key is keyLength random bytes, hex encoded. With targets, every
// named attribute must be a psk attribute of the device or nothing is
// generated. Without targets all psk attributes are used; a device without
// any yields ErrNoPSKAttributes.
func (s *Service) GenPSK(ctx context.Context, tenant, deviceID string, keyLength int, targets []string) ([]GeneratedKey, error) {
	var (
		keys []GeneratedKey
		view *View
	)
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		d, err := tx.GetDevice(ctx, deviceID)
		if err != nil {
			return err
		}
		if keyLength <= 0 || keyLength > s.cfg.KeyLengthMax {
			return withDetail(ErrInvalidKeyLength, "key_length must be greater than 0 and at most %d", s.cfg.KeyLengthMax)
		}

		vw := newViewer(tx, s.logger)
		current, err := vw.view(ctx, d)
		if err != nil {
			return err
		}
		chosen, err := pskTargets(current.AllAttributes(), targets)
		if err != nil {
			return err
		}

		for _, a := range chosen {
			secret, err := randomHex(keyLength)
			if err != nil {
				return err
			}
			sealed, err := s.cipher.Encrypt([]byte(secret))
			if err != nil {
				return fmt.Errorf("encrypting psk: %w", err)
			}
			if err := tx.UpsertPSK(ctx, deviceID, a.ID, sealed); err != nil {
				return err
			}
			keys = append(keys, GeneratedKey{Attribute: a.Label, PSK: secret})
		}
		if err := tx.TouchDevice(ctx, deviceID, s.now()); err != nil {
			return err
		}
		if d, err = tx.GetDevice(ctx, deviceID); err != nil {
			return err
		}
		view, err = vw.view(ctx, d)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindUpdate, tenant, deviceID, view))
	s.logger.Info("psk generated", "tenant", tenant, "device_id", deviceID, "attrs", len(keys))
	return keys, nil
}

func pskTargets(attrs []Attribute, targets []string) ([]Attribute, error) {
	var psk []Attribute
	byLabel := make(map[string]Attribute)
	for _, a := range attrs {
		if a.IsPSK() {
			psk = append(psk, a)
			byLabel[a.Label] = a
		}
	}

	if len(targets) == 0 {
		if len(psk) == 0 {
			return nil, ErrNoPSKAttributes
		}
		return psk, nil
	}

	chosen := make([]Attribute, 0, len(targets))
	seen := make(map[string]bool, len(targets))
	for _, label := range targets {
		a, ok := byLabel[label]
		switch {
		case !ok:
			return nil, withDetail(ErrInvalidPSKTargets, "%q is not a psk attribute of the device", label)
		case seen[label]:
			// An attribute holds one key, so a repeat would return a key
			// that is overwritten before it is stored.
			return nil, withDetail(ErrInvalidPSKTargets, "%q is listed more than once", label)
		}
		seen[label] = true
		chosen = append(chosen, a)
	}
	return chosen, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating psk: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// CopyPSK copies the stored key of one device attribute to another.
//
// The ciphertext is copied as is. This relies on every key being sealed
// under the same process-wide cipher key.
func (s *Service) CopyPSK(ctx context.Context, tenant, srcDeviceID, srcAttr, destDeviceID, destAttr string) error {
	var view *View
	err := inTx(ctx, s.store, tenant, func(tx Tx) error {
		vw := newViewer(tx, s.logger)
		src, srcID, err := resolvePSKAttr(ctx, tx, vw, srcDeviceID, srcAttr)
		if err != nil {
			return err
		}
		dest, destID, err := resolvePSKAttr(ctx, tx, vw, destDeviceID, destAttr)
		if err != nil {
			return err
		}

		key, err := tx.GetPSK(ctx, src.ID, srcID)
		if err != nil {
			return err
		}
		if err := tx.UpsertPSK(ctx, dest.ID, destID, key); err != nil {
			return err
		}
		if err := tx.TouchDevice(ctx, dest.ID, s.now()); err != nil {
			return err
		}
		if dest, err = tx.GetDevice(ctx, dest.ID); err != nil {
			return err
		}
		view, err = vw.view(ctx, dest)
		return err
	})
	if err != nil {
		return err
	}

	s.notifier.Publish(ctx, notify.DeviceEvent(notify.KindUpdate, tenant, destDeviceID, view))
	s.logger.Info("psk copied", "tenant", tenant,
		"from", srcDeviceID, "from_attr", srcAttr, "to", destDeviceID, "to_attr", destAttr)
	return nil
}

// resolvePSKAttr loads a device and the id of its psk attribute label.
func resolvePSKAttr(ctx context.Context, tx Tx, vw *viewer, deviceID, label string) (*Device, int64, error) {
	d, err := tx.GetDevice(ctx, deviceID)
	if err != nil {
		return nil, 0, err
	}
	view, err := vw.view(ctx, d)
	if err != nil {
		return nil, 0, err
	}
	for _, a := range view.AllAttributes() {
		if a.Label != label {
			continue
		}
		if !a.IsPSK() {
			return nil, 0, withDetail(ErrAttributeNotPSK, "attribute %q of device %s is not a psk attribute", label, deviceID)
		}
		return d, a.ID, nil
	}
	return nil, 0, withDetail(ErrAttributeNotFound, "device %s has no attribute %q", deviceID, label)
}
