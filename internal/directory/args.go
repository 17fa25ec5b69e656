package directory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// The add/remove operations accept the loosely-typed argument shapes of
// the original RPC surface: a bare name string, a positional array
// [user, is_email?, description?], or an object with named fields. Each
// shape is decoded explicitly; anything else is rejected.

var errBadArgs = errors.New("not a valid input type")

type userObject struct {
	User        json.RawMessage `json:"user"`
	IsEmail     json.RawMessage `json:"is_email"`
	Description json.RawMessage `json:"description"`
}

// DecodeAddArgs decodes adduser arguments into a username and metadata.
func DecodeAddArgs(raw []byte) (string, Meta, error) {
	shape, err := shapeOf(raw)
	if err != nil {
		return "", Meta{}, err
	}
	switch shape {
	case '"':
		var user string
		if err := json.Unmarshal(raw, &user); err != nil {
			return "", Meta{}, fmt.Errorf("%w: %v", errBadArgs, err)
		}
		return user, Meta{}, nil
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", Meta{}, fmt.Errorf("%w: %v", errBadArgs, err)
		}
		if len(parts) == 0 {
			return "", Meta{}, errors.New("empty array input")
		}
		user, err := decodeString(parts[0], "user")
		if err != nil {
			return "", Meta{}, err
		}
		var meta Meta
		if len(parts) >= 2 {
			meta.IsEmail, err = decodeBoolish(parts[1])
			if err != nil {
				return "", Meta{}, err
			}
		}
		if len(parts) >= 3 {
			desc, err := decodeString(parts[2], "description")
			if err != nil {
				return "", Meta{}, err
			}
			meta.Description = &desc
		}
		return user, meta, nil
	case '{':
		var obj userObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", Meta{}, fmt.Errorf("%w: %v", errBadArgs, err)
		}
		if obj.User == nil {
			return "", Meta{}, errors.New("`user` element not found in object")
		}
		user, err := decodeString(obj.User, "user")
		if err != nil {
			return "", Meta{}, err
		}
		var meta Meta
		if obj.IsEmail != nil {
			meta.IsEmail, err = decodeBoolish(obj.IsEmail)
			if err != nil {
				return "", Meta{}, err
			}
		}
		if obj.Description != nil {
			desc, err := decodeString(obj.Description, "description")
			if err != nil {
				return "", Meta{}, err
			}
			meta.Description = &desc
		}
		return user, meta, nil
	}
	return "", Meta{}, errBadArgs
}

// DecodeNameArgs decodes deluser arguments into a username.
func DecodeNameArgs(raw []byte) (string, error) {
	shape, err := shapeOf(raw)
	if err != nil {
		return "", err
	}
	switch shape {
	case '"':
		var user string
		if err := json.Unmarshal(raw, &user); err != nil {
			return "", fmt.Errorf("%w: %v", errBadArgs, err)
		}
		return user, nil
	case '[':
		var parts []json.RawMessage
		if err := json.Unmarshal(raw, &parts); err != nil {
			return "", fmt.Errorf("%w: %v", errBadArgs, err)
		}
		if len(parts) == 0 {
			return "", errors.New("empty array input")
		}
		return decodeString(parts[0], "user")
	case '{':
		var obj userObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return "", fmt.Errorf("%w: %v", errBadArgs, err)
		}
		if obj.User == nil {
			return "", errors.New("`user` element not found in object")
		}
		return decodeString(obj.User, "user")
	}
	return "", errBadArgs
}

// shapeOf returns the first non-whitespace byte, discriminating the
// accepted JSON shapes.
func shapeOf(raw []byte) (byte, error) {
	for _, b := range raw {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b, nil
	}
	return 0, errBadArgs
}

func decodeString(raw json.RawMessage, field string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("`%s` is not a string", field)
	}
	return s, nil
}

// decodeBoolish accepts a JSON bool or a string holding one.
func decodeBoolish(raw json.RawMessage) (*bool, error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return &b, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		parsed, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("`is_email` has invalid value: %w", err)
		}
		return &parsed, nil
	}
	return nil, errors.New("`is_email` has invalid type")
}
