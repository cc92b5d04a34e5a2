// Package codec ties the pipeline of dFrag together.
//
// A Codec is one protocol version. Encode turns a message into fragments:
//
//	message -> body.Codec (transform, serialize, compress) -> split -> header + chunk
//
// DecodeFragment reverses it one fragment at a time: the header is parsed and
// verified, the payload is submitted to the fragment store under the key
// (identity, version/transaction date) and once the store reports the message
// finished, the merged body is decoded.
//
// MultiVersionDecoder holds the current codec and any number of legacy ones.
// Fragments are decoded by the first codec whose tag matches; fragments
// without a matching version fail with common.ErrUnknownVersion. Any other
// failure of a fragment is reported as common.ErrDecode, errors of the store
// are returned unchanged.
package codec
