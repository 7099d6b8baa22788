package wire

import "fmt"

// Request is the decoded form of a frame body sent by a client.
type Request struct {
	Cmd  string
	Args map[string]Value
	Data Value // Data.IsNil() when the client sent no payload
}

// Response is the decoded form of a frame body sent by the server.
type Response struct {
	Status int64
	Data   Value
}

const (
	keyCmd    = "cmd"
	keyArgs   = "args"
	keyData   = "data"
	keyStatus = "status"
)

// EncodeRequest renders a Request as a frame body.
func EncodeRequest(req Request) []byte {
	args := make(map[string]Value, len(req.Args))
	for k, v := range req.Args {
		args[k] = v
	}
	m := map[string]Value{
		keyCmd:  String(req.Cmd),
		keyArgs: Map(args),
		keyData: req.Data,
	}
	return Encode(Map(m))
}

// DecodeRequest parses a frame body into a Request.
func DecodeRequest(buf []byte) (Request, error) {
	v, err := Decode(buf)
	if err != nil {
		return Request{}, err
	}
	m, ok := v.AsMap()
	if !ok {
		return Request{}, fmt.Errorf("wire: request body is not a map")
	}
	cmd, ok := m[keyCmd].AsString()
	if !ok {
		return Request{}, fmt.Errorf("wire: request missing %q string field", keyCmd)
	}
	args, _ := m[keyArgs].AsMap()
	data := m[keyData] // zero Value (KindNil) if absent
	return Request{Cmd: cmd, Args: args, Data: data}, nil
}

// EncodeResponse renders a Response as a frame body.
func EncodeResponse(resp Response) []byte {
	m := map[string]Value{
		keyStatus: Int(resp.Status),
		keyData:   resp.Data,
	}
	return Encode(Map(m))
}

// DecodeResponse parses a frame body into a Response.
func DecodeResponse(buf []byte) (Response, error) {
	v, err := Decode(buf)
	if err != nil {
		return Response{}, err
	}
	m, ok := v.AsMap()
	if !ok {
		return Response{}, fmt.Errorf("wire: response body is not a map")
	}
	status, ok := m[keyStatus].AsInt()
	if !ok {
		return Response{}, fmt.Errorf("wire: response missing %q int field", keyStatus)
	}
	return Response{Status: status, Data: m[keyData]}, nil
}
