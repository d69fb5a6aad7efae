package protocol

import (
	"encoding/json"
	"fmt"
)

type inboundDecoder func(raw []byte) (Inbound, error)
type outboundDecoder func(raw []byte) (Outbound, error)

var (
	inboundDecoders  = map[string]inboundDecoder{}
	outboundDecoders = map[string]outboundDecoder{}
)

func registerInbound(msgType string, dec inboundDecoder) {
	if _, dup := inboundDecoders[msgType]; dup {
		panic(fmt.Sprintf("protocol: duplicate inbound message type %q", msgType))
	}
	inboundDecoders[msgType] = dec
}

func registerOutbound(msgType string, dec outboundDecoder) {
	if _, dup := outboundDecoders[msgType]; dup {
		panic(fmt.Sprintf("protocol: duplicate outbound message type %q", msgType))
	}
	outboundDecoders[msgType] = dec
}

func init() {
	registerInbound(TypeUserLogin, decodeUserLogin)
	registerInbound(TypeUserGetSettings, decodeUserGetSettings)
	registerInbound(TypeUserSetSettings, decodeUserSetSettings)
	registerInbound(TypePing, decodePing)

	registerOutbound(TypeUserLoginAck, decodeUserLoginAck)
	registerOutbound(TypeUserGetSettingsAck, decodeUserGetSettingsAck)
	registerOutbound(TypeUserSetSettingsAck, decodeUserSetSettingsAck)
	registerOutbound(TypeJSONParseError, decodeErrorFrame(TypeJSONParseError))
	registerOutbound(TypeMessageParseError, decodeErrorFrame(TypeMessageParseError))
	registerOutbound(TypeMissingHandlerError, decodeErrorFrame(TypeMissingHandlerError))
	registerOutbound(TypeHandlerError, decodeErrorFrame(TypeHandlerError))
}

// DecodeInbound validates raw JSON against the inbound message set and
// returns the typed message. The raw bytes must already be valid JSON;
// a payload that is not an object, lacks a known type, or fails the
// shape of its discriminant is rejected.
func DecodeInbound(raw []byte) (Inbound, error) {
	msgType, err := probeType(raw)
	if err != nil {
		return nil, err
	}
	dec, ok := inboundDecoders[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
	return dec(raw)
}

// DecodeOutbound is the client-side counterpart of DecodeInbound.
func DecodeOutbound(raw []byte) (Outbound, error) {
	msgType, err := probeType(raw)
	if err != nil {
		return nil, err
	}
	dec, ok := outboundDecoders[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, msgType)
	}
	return dec(raw)
}

// Marshal encodes a message for the wire. It refuses a hand-built value
// whose Type field disagrees with its static discriminant, so a bad
// server-constructed payload fails before it is sent.
func Marshal(msg interface{ MsgType() string }) ([]byte, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MsgType(), err)
	}
	wireType, err := probeType(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", msg.MsgType(), err)
	}
	if wireType != msg.MsgType() {
		return nil, fmt.Errorf("%w: type field %q does not match discriminant %q",
			ErrInvalidShape, wireType, msg.MsgType())
	}
	return data, nil
}

func probeType(raw []byte) (string, error) {
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if probe.Type == nil || *probe.Type == "" {
		return "", ErrMissingType
	}
	return *probe.Type, nil
}

func fieldErr(msgType, field string) error {
	return fmt.Errorf("%w: %s requires field %q", ErrInvalidShape, msgType, field)
}

func decodeUserLogin(raw []byte) (Inbound, error) {
	var stage struct {
		Fid *int64 `json:"fid"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if stage.Fid == nil {
		return nil, fieldErr(TypeUserLogin, "fid")
	}
	return NewUserLogin(*stage.Fid), nil
}

func decodeUserGetSettings(raw []byte) (Inbound, error) {
	var stage struct {
		Fid *int64 `json:"fid"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if stage.Fid == nil {
		return nil, fieldErr(TypeUserGetSettings, "fid")
	}
	return NewUserGetSettings(*stage.Fid), nil
}

func decodeUserSetSettings(raw []byte) (Inbound, error) {
	var stage struct {
		Fid      *int64         `json:"fid"`
		Settings *SettingsPatch `json:"settings"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if stage.Fid == nil {
		return nil, fieldErr(TypeUserSetSettings, "fid")
	}
	if stage.Settings == nil {
		return nil, fieldErr(TypeUserSetSettings, "settings")
	}
	return NewUserSetSettings(*stage.Fid, *stage.Settings), nil
}

func decodePing(raw []byte) (Inbound, error) {
	// t is advisory; older clients send a bare ping
	var stage struct {
		T int64 `json:"t"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	return NewPing(stage.T), nil
}

func decodeUserLoginAck(raw []byte) (Outbound, error) {
	var stage struct {
		Fid *int64 `json:"fid"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if stage.Fid == nil {
		return nil, fieldErr(TypeUserLoginAck, "fid")
	}
	return NewUserLoginAck(*stage.Fid), nil
}

func decodeUserGetSettingsAck(raw []byte) (Outbound, error) {
	var stage struct {
		Fid      *int64 `json:"fid"`
		Settings *struct {
			InteractionSettings *InteractionSettings `json:"interactionSettings"`
			TipSettings         *TipSettings         `json:"tipSettings"`
		} `json:"settings"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if stage.Fid == nil {
		return nil, fieldErr(TypeUserGetSettingsAck, "fid")
	}
	if stage.Settings == nil || stage.Settings.InteractionSettings == nil || stage.Settings.TipSettings == nil {
		return nil, fieldErr(TypeUserGetSettingsAck, "settings")
	}
	return NewUserGetSettingsAck(*stage.Fid, UserSettings{
		InteractionSettings: *stage.Settings.InteractionSettings,
		TipSettings:         *stage.Settings.TipSettings,
	}), nil
}

func decodeUserSetSettingsAck(raw []byte) (Outbound, error) {
	var stage struct {
		Fid     *int64 `json:"fid"`
		Success *bool  `json:"success"`
	}
	if err := json.Unmarshal(raw, &stage); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
	}
	if stage.Fid == nil {
		return nil, fieldErr(TypeUserSetSettingsAck, "fid")
	}
	if stage.Success == nil {
		return nil, fieldErr(TypeUserSetSettingsAck, "success")
	}
	return NewUserSetSettingsAck(*stage.Fid, *stage.Success), nil
}

func decodeErrorFrame(msgType string) outboundDecoder {
	return func(raw []byte) (Outbound, error) {
		var stage struct {
			Error *string `json:"error"`
		}
		if err := json.Unmarshal(raw, &stage); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidShape, err)
		}
		if stage.Error == nil {
			return nil, fieldErr(msgType, "error")
		}
		switch msgType {
		case TypeJSONParseError:
			return NewJSONParseError(*stage.Error), nil
		case TypeMessageParseError:
			return NewMessageParseError(*stage.Error), nil
		case TypeMissingHandlerError:
			return NewMissingHandlerError(*stage.Error), nil
		default:
			return NewHandlerError(*stage.Error), nil
		}
	}
}

// Keep these lists in sync with the union interfaces and the decoder
// tables; TestDecoderExhaustiveness fails when a message kind is added
// to one but not the others.
var allInbound = []Inbound{
	UserLogin{}, UserGetSettings{}, UserSetSettings{}, Ping{},
}

var allOutbound = []Outbound{
	UserLoginAck{}, UserGetSettingsAck{}, UserSetSettingsAck{},
	JSONParseError{}, MessageParseError{}, MissingHandlerError{}, HandlerError{},
}
