package protocol

// === inbound messages (client -> server) ===

type UserLogin struct {
	Type string `json:"type"`
	Fid  int64  `json:"fid"`
}

func NewUserLogin(fid int64) UserLogin { return UserLogin{Type: TypeUserLogin, Fid: fid} }

func (UserLogin) MsgType() string { return TypeUserLogin }
func (UserLogin) inbound()        {}

type UserGetSettings struct {
	Type string `json:"type"`
	Fid  int64  `json:"fid"`
}

func NewUserGetSettings(fid int64) UserGetSettings {
	return UserGetSettings{Type: TypeUserGetSettings, Fid: fid}
}

func (UserGetSettings) MsgType() string { return TypeUserGetSettings }
func (UserGetSettings) inbound()        {}

type UserSetSettings struct {
	Type     string        `json:"type"`
	Fid      int64         `json:"fid"`
	Settings SettingsPatch `json:"settings"`
}

func NewUserSetSettings(fid int64, patch SettingsPatch) UserSetSettings {
	return UserSetSettings{Type: TypeUserSetSettings, Fid: fid, Settings: patch}
}

func (UserSetSettings) MsgType() string { return TypeUserSetSettings }
func (UserSetSettings) inbound()        {}

// Ping is the client-initiated heartbeat. T is the sender's unix-milli
// clock; the server does not reply.
type Ping struct {
	Type string `json:"type"`
	T    int64  `json:"t"`
}

func NewPing(t int64) Ping { return Ping{Type: TypePing, T: t} }

func (Ping) MsgType() string { return TypePing }
func (Ping) inbound()        {}

// === outbound messages (server -> client) ===

type UserLoginAck struct {
	Type string `json:"type"`
	Fid  int64  `json:"fid"`
}

func NewUserLoginAck(fid int64) UserLoginAck {
	return UserLoginAck{Type: TypeUserLoginAck, Fid: fid}
}

func (UserLoginAck) MsgType() string { return TypeUserLoginAck }
func (UserLoginAck) outbound()       {}

type UserGetSettingsAck struct {
	Type     string       `json:"type"`
	Fid      int64        `json:"fid"`
	Settings UserSettings `json:"settings"`
}

func NewUserGetSettingsAck(fid int64, settings UserSettings) UserGetSettingsAck {
	return UserGetSettingsAck{Type: TypeUserGetSettingsAck, Fid: fid, Settings: settings}
}

func (UserGetSettingsAck) MsgType() string { return TypeUserGetSettingsAck }
func (UserGetSettingsAck) outbound()       {}

type UserSetSettingsAck struct {
	Type    string `json:"type"`
	Fid     int64  `json:"fid"`
	Success bool   `json:"success"`
}

func NewUserSetSettingsAck(fid int64, success bool) UserSetSettingsAck {
	return UserSetSettingsAck{Type: TypeUserSetSettingsAck, Fid: fid, Success: success}
}

func (UserSetSettingsAck) MsgType() string { return TypeUserSetSettingsAck }
func (UserSetSettingsAck) outbound()       {}

// Protocol error frames. One concrete type per discriminant so the
// discriminant stays derivable from the message type alone.

type JSONParseError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewJSONParseError(reason string) JSONParseError {
	return JSONParseError{Type: TypeJSONParseError, Error: reason}
}

func (JSONParseError) MsgType() string { return TypeJSONParseError }
func (JSONParseError) outbound()       {}

type MessageParseError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewMessageParseError(reason string) MessageParseError {
	return MessageParseError{Type: TypeMessageParseError, Error: reason}
}

func (MessageParseError) MsgType() string { return TypeMessageParseError }
func (MessageParseError) outbound()       {}

type MissingHandlerError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewMissingHandlerError(reason string) MissingHandlerError {
	return MissingHandlerError{Type: TypeMissingHandlerError, Error: reason}
}

func (MissingHandlerError) MsgType() string { return TypeMissingHandlerError }
func (MissingHandlerError) outbound()       {}

type HandlerError struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewHandlerError(reason string) HandlerError {
	return HandlerError{Type: TypeHandlerError, Error: reason}
}

func (HandlerError) MsgType() string { return TypeHandlerError }
func (HandlerError) outbound()       {}
