/*
Package templating renders the pages and configuration documents served by
ecg.

Two kinds of templates are managed side by side. HTML pages (*.tmpl.html, with
shared partials in *.part.html) go through html/template so every value is
escaped for the browser. Configuration documents (*.el.tmpl) go through
text/template, because the generated Emacs Lisp must be emitted verbatim;
values that come from a caller are spliced in with the elispString function
instead.

The default templates and static assets are embedded in the binary. Setting
TemplateConfig.TemplateDir swaps the embedded templates for a directory on
disk, which can be reloaded with Refresh or watched for changes with Watch.
*/
package templating
