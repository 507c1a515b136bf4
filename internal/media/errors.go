//////////////////////////////////////////////////////////////////////////////
//
// Media errors
//
// Copyright 2019 Lanikai Labs LLC. All rights reserved.
//
//////////////////////////////////////////////////////////////////////////////

package media

import "errors"

var (
	errClosed = errors.New("media: flow closed")
)
