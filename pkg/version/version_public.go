/////////////////////////////////////////////////////////////////////////////////
//
// version_public.go
//
// Written by Lorenz Breidenbach lob@open.ch, February 2016
// Copyright (c) 2016 Open Systems AG, Switzerland
// All Rights Reserved.
//
/////////////////////////////////////////////////////////////////////////////////

// +build !OSAG

package version

// BuildKind stores what type of code release this is (e.g. public/osag)
const BuildKind = "public"
