package capture

// stealthScript runs before any page script in every capture target.
// It papers over the fingerprintable gaps headless Chrome leaves:
// navigator.webdriver, the missing chrome runtime object, empty plugin
// and language lists, zeroed window metrics, and the deterministic
// canvas, WebGL, and audio signatures bot detectors probe for.
const stealthScript = `
(() => {
  Object.defineProperty(navigator, 'webdriver', { get: () => undefined, configurable: true });
  delete navigator.__proto__.webdriver;

  window.chrome = {
    runtime: {},
    loadTimes: function() {},
    csi: function() {},
    app: {},
  };

  Object.defineProperty(navigator, 'plugins', {
    get: () => [
      {
        0: { type: 'application/x-google-chrome-pdf', suffixes: 'pdf', description: 'Portable Document Format' },
        description: 'Portable Document Format',
        filename: 'internal-pdf-viewer',
        length: 1,
        name: 'Chrome PDF Plugin',
      },
      {
        0: { type: 'application/pdf', suffixes: 'pdf', description: '' },
        description: '',
        filename: 'mhjfbmdgcfjbbpaeojofohoefgiehjai',
        length: 1,
        name: 'Chrome PDF Viewer',
      },
      {
        0: { type: 'application/x-nacl', suffixes: '', description: 'Native Client Executable' },
        1: { type: 'application/x-pnacl', suffixes: '', description: 'Portable Native Client Executable' },
        description: '',
        filename: 'internal-nacl-plugin',
        length: 2,
        name: 'Native Client',
      },
    ],
    configurable: true,
  });

  Object.defineProperty(navigator, 'languages', { get: () => ['en-US', 'en'], configurable: true });
  Object.defineProperty(navigator, 'platform', { get: () => 'Win32', configurable: true });
  Object.defineProperty(navigator, 'vendor', { get: () => 'Google Inc.', configurable: true });
  Object.defineProperty(navigator, 'appVersion', {
    get: () => '5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36',
    configurable: true,
  });
  Object.defineProperty(navigator, 'hardwareConcurrency', { get: () => 8, configurable: true });
  Object.defineProperty(navigator, 'deviceMemory', { get: () => 8, configurable: true });

  if (navigator.getBattery) {
    navigator.getBattery = undefined;
  }

  Object.defineProperty(navigator, 'connection', {
    get: () => ({ effectiveType: '4g', rtt: 50, downlink: 10, saveData: false, onchange: null }),
    configurable: true,
  });

  Object.defineProperty(window, 'outerWidth', { get: () => window.innerWidth, configurable: true });
  Object.defineProperty(window, 'outerHeight', { get: () => window.innerHeight, configurable: true });

  const originalQuery = window.navigator.permissions.query.bind(window.navigator.permissions);
  window.navigator.permissions.query = (parameters) =>
    parameters.name === 'notifications'
      ? Promise.resolve({ state: Notification.permission })
      : originalQuery(parameters);

  const noise = () => (Math.random() - 0.5) * 1e-4;

  const origToDataURL = HTMLCanvasElement.prototype.toDataURL;
  HTMLCanvasElement.prototype.toDataURL = function (...args) {
    const ctx = this.getContext('2d');
    if (ctx && this.width > 0 && this.height > 0) {
      try {
        const shift = ctx.getImageData(0, 0, 1, 1);
        shift.data[0] = shift.data[0] ^ 1;
        ctx.putImageData(shift, 0, 0);
      } catch (e) {}
    }
    return origToDataURL.apply(this, args);
  };

  const origGetParameter = WebGLRenderingContext.prototype.getParameter;
  WebGLRenderingContext.prototype.getParameter = function (parameter) {
    if (parameter === 37445) return 'Intel Inc.';
    if (parameter === 37446) return 'Intel Iris OpenGL Engine';
    return origGetParameter.call(this, parameter);
  };

  if (window.AudioBuffer) {
    const origGetChannelData = AudioBuffer.prototype.getChannelData;
    AudioBuffer.prototype.getChannelData = function (...args) {
      const data = origGetChannelData.apply(this, args);
      if (data.length > 0) {
        data[0] = data[0] + noise();
      }
      return data;
    };
  }
})();
`
