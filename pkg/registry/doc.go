/*
Package registry holds the static option tables used to build a generated
Emacs configuration.

A Registry maps (group, key) pairs to opaque text fragments. Two groups exist,
GroupFeature and GroupLanguage. Language entries may additionally declare the
major mode Eglot should be hooked into and, for at most one language, an extra
stanza configuring a language server program.

The tables are versioned data rather than code: the default set is embedded
from default.yaml and can be replaced at startup with a file of the same
shape. Once loaded, a Registry is never modified, so it can be shared by any
number of concurrent requests without locking.
*/
package registry
