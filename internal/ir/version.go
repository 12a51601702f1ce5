package ir

// Version is the coresync release.
const Version = "0.3.0"
