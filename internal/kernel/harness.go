// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

package kernel

// harnessSource is the Python program each worker runs. It reads one JSON
// request per line on stdin ({"id","code","silent"}) and writes one JSON
// message per line on stdout, mirroring the Message variants. Protocol
// rules the Go side depends on:
//
//   - exactly one boot message: status(starting), no request id
//   - per request: status(busy), optional execute_input, outputs,
//     status(idle) — all tagged with the request id
//   - stream output is flushed on newline, large buffers, explicit
//     flush(), and end of execution
//   - SIGINT is ignored between requests so an interrupt that lands late
//     cannot kill the process; during execution it raises
//     KeyboardInterrupt, which surfaces as an error message
//
// Open matplotlib figures are emitted as display_data image/png bundles
// after each execution and then closed.
const harnessSource = `
import ast
import base64
import io
import json
import signal
import sys
import traceback

_proto = sys.stdout


def _emit(obj):
    _proto.write(json.dumps(obj) + "\n")
    _proto.flush()


class _StreamWriter(io.TextIOBase):
    def __init__(self, name, req):
        self._name = name
        self._req = req
        self._buf = ""

    def writable(self):
        return True

    def write(self, s):
        if not isinstance(s, str):
            s = str(s)
        self._buf += s
        if "\n" in self._buf or len(self._buf) >= 8192:
            self.flush()
        return len(s)

    def flush(self):
        if self._buf:
            _emit({"kind": "stream", "id": self._req, "name": self._name, "text": self._buf})
            self._buf = ""


_globals = {"__name__": "__main__", "__builtins__": __builtins__}


def _flush_figures(req):
    if "matplotlib" not in sys.modules:
        return
    try:
        import matplotlib.pyplot as plt
        nums = plt.get_fignums()
        for num in nums:
            buf = io.BytesIO()
            plt.figure(num).savefig(buf, format="png", bbox_inches="tight")
            payload = base64.b64encode(buf.getvalue()).decode("ascii")
            _emit({"kind": "display_data", "id": req, "data": {"image/png": payload}})
        if nums:
            plt.close("all")
    except Exception:
        pass


def _run(req, code, silent):
    _emit({"kind": "status", "id": req, "state": "busy"})
    if not silent:
        _emit({"kind": "execute_input", "id": req, "code": code})
    out = _StreamWriter("stdout", req)
    err = _StreamWriter("stderr", req)
    prev = (sys.stdout, sys.stderr, sys.stdin)
    # Executed code must not read protocol frames; input() sees EOF.
    sys.stdout, sys.stderr, sys.stdin = out, err, io.StringIO("")
    signal.signal(signal.SIGINT, signal.default_int_handler)
    try:
        tree = ast.parse(code, "<session>", "exec")
        tail = None
        if tree.body and isinstance(tree.body[-1], ast.Expr):
            tail = ast.Expression(tree.body[-1].value)
            tree.body = tree.body[:-1]
        if tree.body:
            exec(compile(tree, "<session>", "exec"), _globals)
        if tail is not None:
            value = eval(compile(tail, "<session>", "eval"), _globals)
            if value is not None:
                _globals["_"] = value
                if not silent:
                    out.flush()
                    err.flush()
                    _emit({"kind": "execute_result", "id": req, "data": {"text/plain": repr(value)}})
    except BaseException as exc:
        out.flush()
        err.flush()
        tb = traceback.format_exception(type(exc), exc, exc.__traceback__)
        _emit({
            "kind": "error",
            "id": req,
            "ename": type(exc).__name__,
            "evalue": str(exc),
            "traceback": [l.rstrip("\n") for l in tb],
        })
    finally:
        signal.signal(signal.SIGINT, signal.SIG_IGN)
        out.flush()
        err.flush()
        sys.stdout, sys.stderr, sys.stdin = prev
        _flush_figures(req)
        _emit({"kind": "status", "id": req, "state": "idle"})


signal.signal(signal.SIGINT, signal.SIG_IGN)
_emit({"kind": "status", "state": "starting"})

for _line in sys.stdin:
    _line = _line.strip()
    if not _line:
        continue
    try:
        _request = json.loads(_line)
    except Exception:
        continue
    _run(_request.get("id", ""), _request.get("code", ""), bool(_request.get("silent")))
`
